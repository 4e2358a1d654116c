// Package manager implements the Device Manager: it owns every
// configured device's driver, runs periodic status polling, and fans
// status changes out to a broadcast bus the client adapters subscribe
// to. Configuration changes and command dispatch are direct method calls
// guarded by the device map's lock; there is no fleet-wide command queue,
// so concurrent calls are not serialised against each other, and the
// traffic of one device is ordered only by that device's driver queue.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openrigd/rigd/dsl/ast"
	"github.com/openrigd/rigd/dsl/interp"
	"github.com/openrigd/rigd/internal/apperror"
	"github.com/openrigd/rigd/internal/device"
	"github.com/openrigd/rigd/internal/resources"
	"github.com/openrigd/rigd/internal/rigdlog"
)

// DeviceSettings is the persisted, user-supplied configuration for one
// device: which rig model it runs and how to reach its serial port.
type DeviceSettings struct {
	DeviceID      string `toml:"device_id"`
	RigModel      string `toml:"rig_model"`
	Path          string `toml:"path"`
	Baud          uint32 `toml:"baud"`
	DataBits      int    `toml:"data_bits"`
	StopBits      int    `toml:"stop_bits"`
	Parity        string `toml:"parity"`
	ReadTimeoutMS int    `toml:"read_timeout_ms"`
}

// DeviceSummary is the read-only view ListDevices hands to adapters: enough
// to answer list_rigs without touching the device itself.
type DeviceSummary struct {
	DeviceID  string
	RigModel  string
	Connected bool
}

// Message is implemented by every value the broadcast bus carries.
type Message interface{ managerMessage() }

// InitialState is broadcast once at startup after rigs.toml has been
// reloaded and every device driver started.
type InitialState struct {
	Devices []DeviceSummary
}

// StatusUpdate is broadcast whenever a device's shared status map changes,
// whether from periodic polling or a command's side effects.
type StatusUpdate struct {
	DeviceID string
	Values   map[string]interp.Value
}

// Connectivity is broadcast whenever a device connects or disconnects.
type Connectivity struct {
	DeviceID  string
	Connected bool
}

func (InitialState) managerMessage() {}
func (StatusUpdate) managerMessage() {}
func (Connectivity) managerMessage() {}

type deviceEntry struct {
	settings DeviceSettings
	driver   *device.Driver
	cancel   context.CancelFunc
}

// Manager owns the device fleet. Create with New, start its background
// loops with Run, and drive it through the exported methods; every method
// is safe to call concurrently.
type Manager struct {
	resources    *resources.Resources
	stateFile    string
	pollInterval time.Duration
	readTimeout  time.Duration

	mu      sync.RWMutex
	devices map[string]*deviceEntry

	events chan device.Event

	subMu sync.RWMutex
	subs  map[chan Message]struct{}
}

// Config bundles the knobs Run needs beyond the resource catalog.
type Config struct {
	StateFile    string
	PollInterval time.Duration
	ReadTimeout  time.Duration
}

// New builds a Manager over res. Call LoadPersisted then Run to bring it
// up; New itself performs no I/O.
func New(res *resources.Resources, cfg Config) *Manager {
	return &Manager{
		resources:    res,
		stateFile:    cfg.StateFile,
		pollInterval: cfg.PollInterval,
		readTimeout:  cfg.ReadTimeout,
		devices:      map[string]*deviceEntry{},
		events:       make(chan device.Event, 64),
		subs:         map[chan Message]struct{}{},
	}
}

// Subscribe registers a channel to receive every broadcast Message. The
// caller must keep draining it; a full channel is simply skipped (slow
// subscribers lose messages rather than stall the bus), matching the
// spec's "subscriber cannot keep up -> drop it" backpressure rule applied
// at the granularity the Go channel gives us for free. Call Unsubscribe
// with the same channel to stop receiving.
func (m *Manager) Subscribe() chan Message {
	ch := make(chan Message, 32)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes ch from the broadcast registry and closes it.
func (m *Manager) Unsubscribe(ch chan Message) {
	m.subMu.Lock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
	m.subMu.Unlock()
}

func (m *Manager) publish(msg Message) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for ch := range m.subs {
		select {
		case ch <- msg:
		default:
			rigdlog.For("manager").Warn().Msg("broadcast subscriber full, dropping message")
		}
	}
}

// LoadPersisted reads the state file (if any) and starts a driver for
// every entry. It must run to completion before any adapter starts
// accepting external commands. It does not publish InitialState; call
// PublishInitialState once startup is otherwise complete.
func (m *Manager) LoadPersisted(ctx context.Context) error {
	settings, err := loadState(m.stateFile)
	if err != nil {
		return apperror.Wrap(apperror.KindConfig, "loading persisted device state", err)
	}
	for _, s := range settings {
		if err := m.startDevice(ctx, s); err != nil {
			rigdlog.For("manager").Error().Err(err).Str("device_id", s.DeviceID).Msg("failed to start persisted device")
		}
	}
	return nil
}

// PublishInitialState broadcasts the current device fleet once, the way
// rigd announces its startup state to freshly connected adapters.
func (m *Manager) PublishInitialState() {
	m.publish(InitialState{Devices: m.ListDevices()})
}

// Run drives the polling loop and the device event fan-in until ctx is
// cancelled. It must run in its own goroutine.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.handleDeviceEvent(ev)
		case <-ticker.C:
			m.pollAll(ctx)
		}
	}
}

func (m *Manager) handleDeviceEvent(ev device.Event) {
	switch ev.Kind {
	case device.Connected:
		m.publish(Connectivity{DeviceID: ev.DeviceID, Connected: true})
	case device.Disconnected:
		m.publish(Connectivity{DeviceID: ev.DeviceID, Connected: false})
	case device.ErrorEvent:
		rigdlog.For("manager").Warn().Str("device_id", ev.DeviceID).Str("error", ev.Text).Msg("device reported an error")
	case device.StatusUpdate:
		m.publish(StatusUpdate{DeviceID: ev.DeviceID, Values: ev.Values})
	}
}

func (m *Manager) pollAll(ctx context.Context) {
	m.mu.RLock()
	entries := make([]*deviceEntry, 0, len(m.devices))
	for _, e := range m.devices {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		it, ok := m.resources.Rigs[e.settings.RigModel]
		if !ok || !it.HasStatus() {
			continue
		}
		// set_var publishes its own StatusUpdate event through the
		// driver when a field actually changes; the poll tick only needs
		// to trigger the read, not compare snapshots itself.
		if _, err := it.ExecuteStatus(ctx, e.driver); err != nil {
			rigdlog.For("manager").Debug().Err(err).Str("device_id", e.settings.DeviceID).Msg("status poll failed")
		}
	}
}

// CreateOrUpdateDevice creates dev if it is new, or replaces its settings
// (reopening the port) if it already exists, and persists the fleet.
func (m *Manager) CreateOrUpdateDevice(ctx context.Context, s DeviceSettings) error {
	if _, ok := m.resources.Rigs[s.RigModel]; !ok {
		return apperror.New(apperror.KindClient, fmt.Sprintf("unknown rig model %q", s.RigModel))
	}

	m.mu.Lock()
	existing, ok := m.devices[s.DeviceID]
	m.mu.Unlock()
	if ok {
		existing.cancel()
		existing.driver.Shutdown()
	}

	if err := m.startDevice(ctx, s); err != nil {
		return err
	}
	return m.persist()
}

func (m *Manager) startDevice(ctx context.Context, s DeviceSettings) error {
	cfg := device.Config{
		Path:        s.Path,
		Baud:        toCFlag(s.Baud),
		DataBits:    s.DataBits,
		StopBits:    s.StopBits,
		Parity:      toParity(s.Parity),
		ReadTimeout: time.Duration(s.ReadTimeoutMS) * time.Millisecond,
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = m.readTimeout
	}

	drv := device.New(s.DeviceID, cfg, m.events)
	driverCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.devices[s.DeviceID] = &deviceEntry{settings: s, driver: drv, cancel: cancel}
	m.mu.Unlock()

	go drv.Run(driverCtx)

	if it, ok := m.resources.Rigs[s.RigModel]; ok {
		if err := it.ExecuteInit(ctx, drv); err != nil {
			rigdlog.For("manager").Warn().Err(err).Str("device_id", s.DeviceID).Msg("rig init failed")
		}
	}
	return nil
}

// RemoveDevice shuts down dev's driver, drops it from the fleet, and
// persists the result.
func (m *Manager) RemoveDevice(deviceID string) error {
	m.mu.Lock()
	entry, ok := m.devices[deviceID]
	if ok {
		delete(m.devices, deviceID)
	}
	m.mu.Unlock()
	if !ok {
		return apperror.New(apperror.KindClient, fmt.Sprintf("unknown device %q", deviceID))
	}
	entry.cancel()
	entry.driver.Shutdown()
	return m.persist()
}

// ExecuteCommand dispatches command against deviceID's rig interpreter,
// routing write/read/set_var through the device's driver.
func (m *Manager) ExecuteCommand(ctx context.Context, deviceID, command string, params map[string]string) (map[string]interp.Value, error) {
	m.mu.RLock()
	entry, ok := m.devices[deviceID]
	m.mu.RUnlock()
	if !ok {
		return nil, apperror.New(apperror.KindClient, fmt.Sprintf("unknown device %q", deviceID))
	}
	it, ok := m.resources.Rigs[entry.settings.RigModel]
	if !ok {
		return nil, apperror.New(apperror.KindClient, fmt.Sprintf("unknown rig model %q", entry.settings.RigModel))
	}
	out, err := it.ExecuteCommand(ctx, command, params, entry.driver)
	if err != nil {
		return nil, apperror.Wrap(classifyInterpError(err), "executing command", err)
	}
	return out, nil
}

// classifyInterpError maps an interp.Error's Kind onto the apperror Kind an
// adapter needs to pick the right JSON-RPC error code: I/O failures are
// distinct from a client simply calling a command wrong.
func classifyInterpError(err error) apperror.Kind {
	ie, ok := err.(*interp.Error)
	if !ok {
		return apperror.KindRuntime
	}
	switch ie.Kind {
	case interp.IoWriteFailed, interp.IoReadFailed:
		return apperror.KindIO
	case interp.ResponseMismatch:
		return apperror.KindProtocol
	default:
		return apperror.KindRuntime
	}
}

// ListDevices returns a snapshot of every known device, never leaking the
// device map's lock across the call.
func (m *Manager) ListDevices() []DeviceSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DeviceSummary, 0, len(m.devices))
	for id, e := range m.devices {
		out = append(out, DeviceSummary{DeviceID: id, RigModel: e.settings.RigModel, Connected: e.driver.Connected()})
	}
	return out
}

// RigModelOf returns the rig model assigned to deviceID.
func (m *Manager) RigModelOf(deviceID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.devices[deviceID]
	if !ok {
		return "", false
	}
	return e.settings.RigModel, true
}

// Interpreter returns the Interpreter for a rig model name, used by
// adapters building get_capabilities responses.
func (m *Manager) Interpreter(rigModel string) (*interp.Interpreter, bool) {
	it, ok := m.resources.Rigs[rigModel]
	return it, ok
}

// Schema returns the single schema every loaded rig implements. Adapters
// use it to check whether a command name exists at all before resolving a
// specific device, the same order the canonical JSON-RPC handler checks
// them in.
func (m *Manager) Schema() *ast.Schema {
	return m.resources.Schema
}

func (m *Manager) persist() error {
	m.mu.RLock()
	settings := make([]DeviceSettings, 0, len(m.devices))
	for _, e := range m.devices {
		settings = append(settings, e.settings)
	}
	m.mu.RUnlock()
	return saveState(m.stateFile, settings)
}
