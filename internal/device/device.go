// Package device implements the per-rig driver: it owns one serial port,
// serialises every write/read against it through a single-consumer
// request queue, and implements interp.ExternalApi so the interpreter
// never has to know a port exists.
package device

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/openrigd/rigd/dsl/interp"
	"github.com/openrigd/rigd/internal/rigdlog"
	"github.com/openrigd/rigd/serial"
)

// Config is the transport configuration for one device's serial port.
type Config struct {
	Path         string
	Baud         serial.CFlag
	DataBits     int
	StopBits     int
	Parity       serial.Parity
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c Config) toSerial() serial.Config {
	return serial.Config{
		Path:        c.Path,
		Baud:        c.Baud,
		DataBits:    c.DataBits,
		StopBits:    c.StopBits,
		Parity:      c.Parity,
		FlowControl: serial.NoFlow,
		ReadTimeout: c.ReadTimeout,
	}
}

// port is the slice of *serial.Port a Driver needs. Tests substitute a
// fake implementation over an in-memory pipe instead of a real tty.
type port interface {
	WriteAll(data []byte) error
	ReadExact(n int, timeout time.Duration) ([]byte, error)
	Close() error
}

// EventKind distinguishes the out-of-band notifications a Driver emits to
// whatever owns it (the Manager).
type EventKind int

const (
	Connected EventKind = iota
	Disconnected
	ErrorEvent
	StatusUpdate
)

// Event is one out-of-band notification from a Driver's Run loop.
type Event struct {
	DeviceID string
	Kind     EventKind
	Text     string                  // populated for ErrorEvent
	Values   map[string]interp.Value // populated for StatusUpdate
}

type reqKind int

const (
	reqWrite reqKind = iota
	reqRead
)

type request struct {
	kind  reqKind
	data  []byte
	n     int
	reply chan requestResult
}

type requestResult struct {
	data []byte
	err  error
}

// Driver owns one serial port and is the single consumer of its request
// queue: at most one write or read is ever in flight on the port.
type Driver struct {
	ID  string
	cfg Config

	events chan<- Event
	open   func() (port, error)

	requests chan request
	shutdown chan struct{}
	done     chan struct{}
	once     sync.Once

	mu             sync.RWMutex
	port           port
	connectedFlag  bool
	lastErr        error
	disconnectedAt time.Time
	status         map[string]interp.Value
}

// New builds a Driver for deviceID. It does not open the port; call Run.
func New(deviceID string, cfg Config, events chan<- Event) *Driver {
	return newDriver(deviceID, cfg, events, func() (port, error) {
		return serial.Open(cfg.toSerial())
	})
}

func newDriver(deviceID string, cfg Config, events chan<- Event, open func() (port, error)) *Driver {
	return &Driver{
		ID:       deviceID,
		cfg:      cfg,
		events:   events,
		open:     open,
		requests: make(chan request, 8),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		status:   map[string]interp.Value{},
	}
}

// Run opens the port and serves requests until ctx is cancelled or
// Shutdown is called. It is meant to run in its own goroutine; the Manager
// owns the goroutine's lifetime via ctx.
func (d *Driver) Run(ctx context.Context) {
	defer close(d.done)
	log := rigdlog.For("device").With().Str("device_id", d.ID).Logger()

	p, err := d.open()
	if err != nil {
		d.recordDisconnect(err)
		d.emit(ErrorEvent, err.Error(), nil)
		d.emit(Disconnected, "", nil)
		log.Error().Err(err).Msg("failed to open serial port")
		return
	}
	d.mu.Lock()
	d.port = p
	d.connectedFlag = true
	d.mu.Unlock()
	d.emit(Connected, "", nil)
	log.Info().Str("path", d.cfg.Path).Msg("device connected")

	defer func() {
		d.mu.Lock()
		if d.port != nil {
			d.port.Close()
			d.port = nil
		}
		d.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		case req := <-d.requests:
			result := d.serve(req)
			if result.err != nil {
				d.recordDisconnect(result.err)
				d.emit(ErrorEvent, result.err.Error(), nil)
				d.emit(Disconnected, "", nil)
				req.reply <- result
				log.Error().Err(result.err).Msg("device I/O failed, disconnecting")
				return
			}
			req.reply <- result
		}
	}
}

func (d *Driver) serve(req request) requestResult {
	d.mu.RLock()
	p := d.port
	d.mu.RUnlock()
	if p == nil {
		return requestResult{err: errors.New("device disconnected")}
	}
	switch req.kind {
	case reqWrite:
		if err := p.WriteAll(req.data); err != nil {
			return requestResult{err: err}
		}
		return requestResult{}
	case reqRead:
		data, err := p.ReadExact(req.n, d.cfg.ReadTimeout)
		return requestResult{data: data, err: err}
	}
	return requestResult{err: fmt.Errorf("unknown request kind %d", req.kind)}
}

func (d *Driver) recordDisconnect(err error) {
	d.mu.Lock()
	d.connectedFlag = false
	d.lastErr = err
	d.disconnectedAt = time.Now()
	d.mu.Unlock()
}

func (d *Driver) emit(kind EventKind, text string, values map[string]interp.Value) {
	if d.events == nil {
		return
	}
	select {
	case d.events <- Event{DeviceID: d.ID, Kind: kind, Text: text, Values: values}:
	default:
	}
}

// Shutdown stops Run's loop and closes the port. Safe to call more than
// once and safe to call before Run has started.
func (d *Driver) Shutdown() {
	d.once.Do(func() { close(d.shutdown) })
}

// Connected reports whether the port is currently open.
func (d *Driver) Connected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connectedFlag
}

// LastError and DisconnectedAt surface diagnostics for introspection
// alongside get_capabilities.
func (d *Driver) LastError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

func (d *Driver) DisconnectedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.disconnectedAt
}

// Status returns a snapshot copy of the shared status map: safe to read
// without holding any lock the caller didn't already release.
func (d *Driver) Status() map[string]interp.Value {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]interp.Value, len(d.status))
	for k, v := range d.status {
		out[k] = v
	}
	return out
}

func (d *Driver) sendRequest(ctx context.Context, req request) ([]byte, error) {
	req.reply = make(chan requestResult, 1)
	select {
	case d.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.shutdown:
		return nil, errors.New("device shutting down")
	case <-d.done:
		return nil, errors.New("device disconnected")
	}
	select {
	case res := <-req.reply:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		// Run replies before it exits, so a reply that raced the
		// shutdown is already buffered; anything else will never arrive.
		select {
		case res := <-req.reply:
			return res.data, res.err
		default:
			return nil, errors.New("device disconnected")
		}
	}
}

// --- interp.ExternalApi ---

func (d *Driver) Write(ctx context.Context, data []byte) error {
	_, err := d.sendRequest(ctx, request{kind: reqWrite, data: data})
	return err
}

func (d *Driver) Read(ctx context.Context, n int) ([]byte, error) {
	return d.sendRequest(ctx, request{kind: reqRead, n: n})
}

func (d *Driver) SetVar(_ context.Context, name string, v interp.Value) error {
	d.mu.Lock()
	prev, existed := d.status[name]
	changed := !existed || !valueEqual(prev, v)
	d.status[name] = v
	snapshot := make(map[string]interp.Value, len(d.status))
	for k, val := range d.status {
		snapshot[k] = val
	}
	d.mu.Unlock()
	if changed {
		d.emit(StatusUpdate, "", snapshot)
	}
	return nil
}

func valueEqual(a, b interp.Value) bool {
	return reflect.DeepEqual(a, b)
}
