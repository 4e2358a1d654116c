package device

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/openrigd/rigd/serial"
)

// TestDriverOverRealPTY exercises the Driver against an actual
// pseudoterminal pair instead of fakePort, so the WriteAll/ReadExact path
// this package depends on is proven against real termios/ioctl plumbing
// and not just its own in-memory double.
func TestDriverOverRealPTY(t *testing.T) {
	master, slave, err := serial.OpenPTY(nil, nil)
	if err != nil {
		t.Skipf("OpenPTY unavailable in this environment: %v", err)
	}
	t.Cleanup(func() { slave.Close() })

	echo := make(chan []byte, 1)
	go func() {
		buf, err := slave.ReadExact(2, time.Second)
		if err != nil {
			echo <- nil
			return
		}
		echo <- buf
		slave.WriteAll([]byte{0xAA, 0xBB, 0xCC})
	}()

	events := make(chan Event, 16)
	d := newDriver("pty-rig", Config{ReadTimeout: 2 * time.Second}, events, func() (port, error) {
		return master, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		d.Shutdown()
		cancel()
	})
	go d.Run(ctx)
	waitConnected(t, events)

	if err := d.Write(context.Background(), []byte{0x01, 0x02}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case got := <-echo:
		if !bytes.Equal(got, []byte{0x01, 0x02}) {
			t.Fatalf("slave side got % X, want 01 02", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for slave to see the write")
	}

	got, err := d.Read(context.Background(), 3)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("got % X, want AA BB CC", got)
	}
}
