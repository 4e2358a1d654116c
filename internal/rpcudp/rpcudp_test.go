package rpcudp

import (
	"context"
	"encoding/json"
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
	enum Vfo { A, B }
	fn select(Vfo target);
	status { int freq; int mode; }
}
`

// testRigSrc's status block publishes freq but never mode, so
// get_capabilities must not advertise mode even though the schema
// declares it.
const testRigSrc = `
impl R for M {
	enum Vfo {
		A = 1,
		B = 2,
	}
	status {
		read("{freq:int_lu:4}");
		set_var(s"freq", freq);
	}
	fn select(Vfo target) {
		write("{target:1}");
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
	// Device ids the original reference numbers sequentially; keep a
	// numeric-looking one registered so a literal JSON number rig_id
	// resolves to a real device too, not just the unknown-command path.
	if err := mgr.CreateOrUpdateDevice(ctx, manager.DeviceSettings{
		DeviceID: "0", RigModel: "M", Path: "/dev/ptmx", Baud: 9600, DataBits: 8, StopBits: 1, Parity: "none",
	}); err != nil {
		t.Fatalf("CreateOrUpdateDevice: %v", err)
	}

	srv, err := New(mgr, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go srv.Serve(ctx)
	t.Cleanup(func() { srv.conn.Close() })
	return srv, srv.conn.LocalAddr().String()
}

func roundTrip(t *testing.T, addr, reqJSON string) map[string]interface{} {
	t.Helper()
	conn, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(reqJSON)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(buf[:n], &out); err != nil {
		t.Fatalf("Unmarshal response: %v", err)
	}
	return out
}

func TestListRigs(t *testing.T) {
	_, addr := newTestServer(t)
	out := roundTrip(t, addr, `{"jsonrpc":"2.0","method":"list_rigs","params":{},"id":1}`)
	result, ok := out["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a result object, got %#v", out)
	}
	if _, ok := result["rig1"]; !ok {
		t.Fatalf("expected rig1 in list_rigs result, got %#v", result)
	}
}

// TestExecuteCommandUnknownCommandReturnsDomainError sends a bare JSON
// number rig_id with an unknown command: a naive `RigID string` field
// would fail to unmarshal the number and mask this as codeInvalidParams
// instead of codeUnknownCommand.
func TestExecuteCommandUnknownCommandReturnsDomainError(t *testing.T) {
	_, addr := newTestServer(t)
	out := roundTrip(t, addr, `{"jsonrpc":"2.0","method":"execute_command","params":{"rig_id":0,"command":"unknown_x","parameters":{}},"id":7}`)
	errObj, ok := out["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected an error object, got %#v", out)
	}
	if int(errObj["code"].(float64)) != codeUnknownCommand {
		t.Fatalf("expected code %d, got %v", codeUnknownCommand, errObj["code"])
	}
	if out["id"].(float64) != 7 {
		t.Fatalf("expected id 7 echoed back, got %v", out["id"])
	}
}

// TestExecuteCommandNumericRigIDResolvesDevice exercises the positive path
// for a numeric rig_id: device "0" must actually be reached, not just
// rejected early as an unknown command.
func TestExecuteCommandNumericRigIDResolvesDevice(t *testing.T) {
	_, addr := newTestServer(t)
	out := roundTrip(t, addr, `{"jsonrpc":"2.0","method":"execute_command","params":{"rig_id":0,"command":"select","parameters":{"target":"B"}},"id":8}`)
	if _, ok := out["error"]; ok {
		t.Fatalf("unexpected error: %#v", out)
	}
	if _, ok := out["result"]; !ok {
		t.Fatalf("expected a result, got %#v", out)
	}
}

func TestExecuteCommandUnknownRig(t *testing.T) {
	_, addr := newTestServer(t)
	out := roundTrip(t, addr, `{"jsonrpc":"2.0","method":"execute_command","params":{"rig_id":"nope","command":"select","parameters":{}},"id":2}`)
	errObj, ok := out["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected an error object, got %#v", out)
	}
	if int(errObj["code"].(float64)) != codeUnknownRigID {
		t.Fatalf("expected code %d, got %v", codeUnknownRigID, errObj["code"])
	}
}

func TestExecuteCommandSuccess(t *testing.T) {
	_, addr := newTestServer(t)
	out := roundTrip(t, addr, `{"jsonrpc":"2.0","method":"execute_command","params":{"rig_id":"rig1","command":"select","parameters":{"target":"B"}},"id":3}`)
	if _, ok := out["error"]; ok {
		t.Fatalf("unexpected error: %#v", out)
	}
	if _, ok := out["result"]; !ok {
		t.Fatalf("expected a result, got %#v", out)
	}
}

func TestGetCapabilities(t *testing.T) {
	_, addr := newTestServer(t)
	out := roundTrip(t, addr, `{"jsonrpc":"2.0","method":"get_capabilities","params":{"rig_id":"rig1"},"id":4}`)
	result, ok := out["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a result object, got %#v", out)
	}
	commands, ok := result["commands"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected commands map, got %#v", result)
	}
	if _, ok := commands["select"]; !ok {
		t.Fatalf("expected select in capabilities, got %#v", commands)
	}
	statusFields, ok := result["status_fields"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected status_fields map, got %#v", result)
	}
	if _, ok := statusFields["freq"]; !ok {
		t.Fatalf("expected freq in status_fields, got %#v", statusFields)
	}
	if _, ok := statusFields["mode"]; ok {
		t.Fatalf("mode is declared by the schema but never published by the rig's status block; got %#v", statusFields)
	}
}

func TestSubscribeStatusReplacesNotMerges(t *testing.T) {
	srv, addr := newTestServer(t)
	conn, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	req1 := `{"jsonrpc":"2.0","method":"subscribe_status","params":{"rig_id":"rig1","fields":["freq"]},"id":5}`
	if _, err := conn.Write([]byte(req1)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, maxDatagram)
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}

	req2 := `{"jsonrpc":"2.0","method":"subscribe_status","params":{"rig_id":"rig1","fields":["mode"]},"id":6}`
	if _, err := conn.Write([]byte(req2)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}

	srv.mu.Lock()
	sub, ok := srv.subs[subKey{rigID: "rig1", addr: conn.LocalAddr().String()}]
	srv.mu.Unlock()
	if !ok {
		t.Fatalf("expected a subscription for rig1 from %s", conn.LocalAddr())
	}
	if _, hasMode := sub.fields["mode"]; !hasMode || len(sub.fields) != 1 {
		t.Fatalf("expected the second call to replace the field set with [mode], got %v", sub.fields)
	}
}
