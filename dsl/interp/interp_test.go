package interp

import (
	"bytes"
	"context"
	"testing"

	"github.com/openrigd/rigd/dsl/ast"
	"github.com/openrigd/rigd/dsl/parser"
	"github.com/openrigd/rigd/dsl/sema"
)

// fakeApi is an in-memory ExternalApi double: it records every write and
// replays a single canned read response, the same shape the interpreter's
// own design notes describe for testing without a real port.
type fakeApi struct {
	writes  [][]byte
	reply   []byte
	readErr error
	vars    map[string]Value
}

func (f *fakeApi) Write(_ context.Context, data []byte) error {
	f.writes = append(f.writes, append([]byte{}, data...))
	return nil
}

func (f *fakeApi) Read(_ context.Context, n int) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if len(f.reply) < n {
		return f.reply, nil
	}
	out := f.reply[:n]
	f.reply = f.reply[n:]
	return out, nil
}

func (f *fakeApi) SetVar(_ context.Context, name string, v Value) error {
	if f.vars == nil {
		f.vars = map[string]Value{}
	}
	f.vars[name] = v
	return nil
}

func mustBuild(t *testing.T, schemaSrc, rigSrc string) (*ast.Schema, *ast.RigFile) {
	t.Helper()
	schema, err := parser.ParseSchema(schemaSrc)
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	rig, err := parser.ParseRig(rigSrc)
	if err != nil {
		t.Fatalf("ParseRig: %v", err)
	}
	if err := sema.Analyze(rig, schema); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return schema, rig
}

func TestInterpolationWriteScenario(t *testing.T) {
	schemaSrc := `
version = 1;
schema IC7300 {
	enum Vfo { A, B }
	fn set_freq(Vfo vfo, int freq);
	status { int freq_a; }
}
`
	rigSrc := `
impl IC7300 for IC7300v1 {
	enum Vfo {
		A = 1,
		B = 2,
	}
	fn set_freq(Vfo vfo, int freq) {
		write("FEFE94E0.25.{vfo:1}.{freq:int_lu:4}.FD");
	}
}
`
	_, rig := mustBuild(t, schemaSrc, rigSrc)
	schema, err := parser.ParseSchema(schemaSrc)
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	i := New(rig, schema)
	api := &fakeApi{}
	_, err = i.ExecuteCommand(context.Background(), "set_freq", map[string]string{
		"vfo":  "A",
		"freq": "14500000",
	}, api)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if len(api.writes) != 1 {
		t.Fatalf("expected exactly 1 write, got %d", len(api.writes))
	}
	want := []byte{0xFE, 0xFE, 0x94, 0xE0, 0x25, 0x01, 0xA0, 0x40, 0xDD, 0x00, 0xFD}
	if !bytes.Equal(api.writes[0], want) {
		t.Fatalf("write mismatch: got % X, want % X", api.writes[0], want)
	}
}

func TestReadTemplateBindsVariable(t *testing.T) {
	schemaSrc := `
version = 1;
schema IC7300 {
	status { int freq; }
}
`
	rigSrc := `
impl IC7300 for IC7300v1 {
	status {
		read("FEFE94E0.25.{freq:bcd_lu:4}.FD");
		set_var(s"freq", freq);
	}
}
`
	_, rig := mustBuild(t, schemaSrc, rigSrc)
	schema, _ := parser.ParseSchema(schemaSrc)
	i := New(rig, schema)
	api := &fakeApi{reply: []byte{0xFE, 0xFE, 0x94, 0xE0, 0x25, 0x12, 0x34, 0x56, 0x78, 0xFD}}
	out, err := i.ExecuteStatus(context.Background(), api)
	if err != nil {
		t.Fatalf("ExecuteStatus: %v", err)
	}
	freq, ok := out["freq"].(Integer)
	if !ok {
		t.Fatalf("expected freq to be bound as Integer, got %#v", out["freq"])
	}
	if int64(freq) != 78563412 {
		t.Fatalf("expected freq == 78563412, got %d", freq)
	}
}

func TestStatusFieldNamesCollectsSetVarTargets(t *testing.T) {
	schemaSrc := `
version = 1;
schema R { status { int freq; int mode; bool ptt; } }
`
	rigSrc := `
impl R for M {
	status {
		read("{freq:int_lu:4}");
		set_var(s"freq", freq);
		if freq > 0 {
			set_var(s"ptt", freq == 0);
		}
	}
}
`
	_, rig := mustBuild(t, schemaSrc, rigSrc)
	schema, _ := parser.ParseSchema(schemaSrc)
	i := New(rig, schema)
	names := i.StatusFieldNames()
	got := map[string]bool{}
	for _, n := range names {
		got[n] = true
	}
	if len(names) != 2 || !got["freq"] || !got["ptt"] {
		t.Fatalf("expected exactly [freq ptt] (ptt via the if branch), got %v", names)
	}
	if got["mode"] {
		t.Fatalf("mode is never set_var'd and must not be reported: %v", names)
	}
}

func TestReadExactMismatchReportsOffset(t *testing.T) {
	schemaSrc := `
version = 1;
schema R { status { int x; } }
`
	rigSrc := `
impl R for M {
	init {
		read("FEFE94E0.25.00.FD");
	}
}
`
	_, rig := mustBuild(t, schemaSrc, rigSrc)
	schema, _ := parser.ParseSchema(schemaSrc)
	i := New(rig, schema)
	api := &fakeApi{reply: []byte{0xFE, 0xFE, 0x94, 0xE0, 0x25, 0xFF, 0xFD}}
	err := i.ExecuteInit(context.Background(), api)
	if err == nil {
		t.Fatal("expected a ResponseMismatch error")
	}
	ie, ok := err.(*Error)
	if !ok || ie.Kind != ResponseMismatch {
		t.Fatalf("expected *interp.Error{Kind: ResponseMismatch}, got %#v", err)
	}
	if ie.Offset != 5 {
		t.Fatalf("expected mismatch at offset 5, got %d", ie.Offset)
	}
}

func TestEnumParamResolution(t *testing.T) {
	schemaSrc := `
version = 1;
schema R {
	enum Vfo { A, B }
	fn select(Vfo target);
}
`
	rigSrc := `
impl R for M {
	enum Vfo {
		A = 1,
		B = 2,
	}
	fn select(Vfo target) {
		write("{target:1}");
	}
}
`
	_, rig := mustBuild(t, schemaSrc, rigSrc)
	schema, _ := parser.ParseSchema(schemaSrc)
	i := New(rig, schema)
	api := &fakeApi{}
	if _, err := i.ExecuteCommand(context.Background(), "select", map[string]string{"target": "B"}, api); err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if !bytes.Equal(api.writes[0], []byte{0x02}) {
		t.Fatalf("expected write([0x02]), got % X", api.writes[0])
	}
}
