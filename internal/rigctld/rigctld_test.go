package rigctld

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/openrigd/rigd/dsl/interp"
	"github.com/openrigd/rigd/dsl/parser"
	"github.com/openrigd/rigd/dsl/sema"
	"github.com/openrigd/rigd/internal/manager"
	"github.com/openrigd/rigd/internal/resources"
)

const testSchemaSrc = `
version = 1;
schema R {
	fn set_freq(int freq);
	fn set_mode(int mode);
	fn set_vfo(int rx, int tx);
	fn transmit(int tx);
	fn set_split(int split);
	status { int freq_a; int freq_b; }
}
`

const testRigSrc = `
impl R for M {
	fn set_freq(int freq) {
		write("{freq:int_lu:4}");
	}
	fn set_mode(int mode) {
		write("{mode:1}");
	}
	fn set_vfo(int rx, int tx) {
		write("{rx:1}");
	}
	fn transmit(int tx) {
		write("{tx:1}");
	}
	fn set_split(int split) {
		write("{split:1}");
	}
}
`

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	schema, err := parser.ParseSchema(testSchemaSrc)
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	rig, err := parser.ParseRig(testRigSrc)
	if err != nil {
		t.Fatalf("ParseRig: %v", err)
	}
	if err := sema.Analyze(rig, schema); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	res := &resources.Resources{Schema: schema, Rigs: map[string]*interp.Interpreter{"M": interp.New(rig, schema)}}

	stateFile := filepath.Join(t.TempDir(), "rigs.toml")
	mgr := manager.New(res, manager.Config{StateFile: stateFile, PollInterval: time.Hour, ReadTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go mgr.Run(ctx)

	if err := mgr.CreateOrUpdateDevice(ctx, manager.DeviceSettings{
		DeviceID: "rig1", RigModel: "M", Path: "/dev/ptmx", Baud: 9600, DataBits: 8, StopBits: 1, Parity: "none",
	}); err != nil {
		t.Fatalf("CreateOrUpdateDevice: %v", err)
	}

	srv, err := New(mgr, "rig1", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go srv.Serve(ctx)
	t.Cleanup(func() { srv.listener.Close() })
	return srv, srv.listener.Addr().String()
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn, bufio.NewReader(conn)
}

func TestSetFreqReturnsRPRT0(t *testing.T) {
	_, addr := newTestServer(t)
	conn, r := dial(t, addr)
	defer conn.Close()

	if _, err := conn.Write([]byte("F 14250000\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if line != "RPRT 0\n" {
		t.Fatalf("expected RPRT 0, got %q", line)
	}
}

func TestGetSplitAlwaysZero(t *testing.T) {
	_, addr := newTestServer(t)
	conn, r := dial(t, addr)
	defer conn.Close()

	conn.Write([]byte("s\n"))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if line != "0\n" {
		t.Fatalf("expected 0, got %q", line)
	}
}

func TestRitSetterAlwaysFails(t *testing.T) {
	_, addr := newTestServer(t)
	conn, r := dial(t, addr)
	defer conn.Close()

	conn.Write([]byte("J 100\n"))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if line != "RPRT -1\n" {
		t.Fatalf("expected RPRT -1, got %q", line)
	}
}

func TestQuitClosesConnection(t *testing.T) {
	_, addr := newTestServer(t)
	conn, r := dial(t, addr)
	defer conn.Close()

	conn.Write([]byte("q\n"))
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err := r.ReadByte()
	if err == nil {
		t.Fatal("expected the connection to close after q")
	}
}

func TestGetFreqDefaultsToZeroWithNoStatus(t *testing.T) {
	_, addr := newTestServer(t)
	conn, r := dial(t, addr)
	defer conn.Close()

	conn.Write([]byte("f\n"))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if line != "0\n" {
		t.Fatalf("expected 0 with no status yet, got %q", line)
	}
}
