package device

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openrigd/rigd/dsl/interp"
)

// fakePort is an in-memory port double: WriteAll appends to a buffer,
// ReadExact serves bytes queued with queueRead, and failRead/failWrite let
// a test force the next operation to return an error.
type fakePort struct {
	written   bytes.Buffer
	readBuf   []byte
	failWrite error
	failRead  error
	closed    bool
}

func (f *fakePort) WriteAll(data []byte) error {
	if f.failWrite != nil {
		return f.failWrite
	}
	f.written.Write(data)
	return nil
}

func (f *fakePort) ReadExact(n int, _ time.Duration) ([]byte, error) {
	if f.failRead != nil {
		return nil, f.failRead
	}
	if len(f.readBuf) < n {
		return nil, errors.New("fakePort: not enough buffered bytes")
	}
	out := f.readBuf[:n]
	f.readBuf = f.readBuf[n:]
	return out, nil
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

func newTestDriver(t *testing.T, p *fakePort) (*Driver, chan Event) {
	t.Helper()
	events := make(chan Event, 16)
	d := newDriver("test-rig", Config{ReadTimeout: time.Second}, events, func() (port, error) {
		return p, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		d.Shutdown()
		cancel()
	})
	go d.Run(ctx)
	waitConnected(t, events)
	return d, events
}

func waitConnected(t *testing.T, events chan Event) {
	t.Helper()
	select {
	case ev := <-events:
		if ev.Kind != Connected {
			t.Fatalf("expected Connected event first, got %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Connected event")
	}
}

func TestDriverWriteReachesPort(t *testing.T) {
	p := &fakePort{}
	d, _ := newTestDriver(t, p)

	if err := d.Write(context.Background(), []byte{0x01, 0x02}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !bytes.Equal(p.written.Bytes(), []byte{0x01, 0x02}) {
		t.Fatalf("got % X written to port", p.written.Bytes())
	}
}

func TestDriverReadReturnsBufferedBytes(t *testing.T) {
	p := &fakePort{readBuf: []byte{0xAA, 0xBB, 0xCC}}
	d, _ := newTestDriver(t, p)

	got, err := d.Read(context.Background(), 2)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte{0xAA, 0xBB}) {
		t.Fatalf("got % X, want AA BB", got)
	}
}

func TestDriverSetVarEmitsStatusUpdateOnChange(t *testing.T) {
	p := &fakePort{}
	d, events := newTestDriver(t, p)

	if err := d.SetVar(context.Background(), "freq", interp.Integer(14500000)); err != nil {
		t.Fatalf("SetVar: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Kind != StatusUpdate {
			t.Fatalf("expected StatusUpdate, got %#v", ev)
		}
		if ev.Values["freq"] != interp.Value(interp.Integer(14500000)) {
			t.Fatalf("unexpected status values: %#v", ev.Values)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for StatusUpdate event")
	}

	// Setting the same value again must not emit a second StatusUpdate.
	if err := d.SetVar(context.Background(), "freq", interp.Integer(14500000)); err != nil {
		t.Fatalf("SetVar: %v", err)
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after no-op SetVar: %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	snap := d.Status()
	if snap["freq"] != interp.Value(interp.Integer(14500000)) {
		t.Fatalf("Status() snapshot missing freq: %#v", snap)
	}
}

func TestDriverDisconnectsOnWriteError(t *testing.T) {
	p := &fakePort{failWrite: errors.New("broken pipe")}
	d, events := newTestDriver(t, p)

	if err := d.Write(context.Background(), []byte{0x01}); err == nil {
		t.Fatal("expected Write to report the port error")
	}

	var sawErr, sawDisconnect bool
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			switch ev.Kind {
			case ErrorEvent:
				sawErr = true
			case Disconnected:
				sawDisconnect = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for disconnect events")
		}
	}
	if !sawErr || !sawDisconnect {
		t.Fatalf("expected both ErrorEvent and Disconnected, got err=%v disconnect=%v", sawErr, sawDisconnect)
	}
	if d.Connected() {
		t.Fatal("expected Connected() == false after I/O error")
	}
	if d.LastError() == nil {
		t.Fatal("expected LastError() to be set after I/O error")
	}
	if !p.closed {
		t.Fatal("expected the port to be closed after the driver's Run loop exits")
	}

	// The driver's Run loop has exited; a subsequent request must not hang
	// forever even though nothing is consuming d.requests anymore.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := d.sendRequest(ctx, request{kind: reqWrite, data: []byte{0x01}}); err == nil {
		t.Fatal("expected sendRequest to fail once the Run loop has exited")
	}
}
