package legacyimport

import (
	"strings"
	"testing"
)

const sampleDescriptor = `
[INIT1]
Command=FEFE94E0190000FD
ReplyLength=7

[STATUS1]
Command=FEFE94E003FD
ReplyLength=11

[FREQUENCY]
Command=FEFE94E025000000000000FD
ReplyEnd=FD
Value1=freq

[PTT ON]
Command=FEFE94E01C0001FD
ReplyLength=6
`

func TestParseDataBucketsBySectionPrefix(t *testing.T) {
	desc, err := ParseData([]byte(sampleDescriptor))
	if err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	if len(desc.InitCommands) != 1 {
		t.Fatalf("expected 1 init command, got %d", len(desc.InitCommands))
	}
	if len(desc.StatusCommands) != 1 {
		t.Fatalf("expected 1 status command, got %d", len(desc.StatusCommands))
	}
	if len(desc.ParamCommands) != 2 {
		t.Fatalf("expected 2 param commands, got %d", len(desc.ParamCommands))
	}
}

func TestParseDataReadsEndOfDataVariants(t *testing.T) {
	desc, err := ParseData([]byte(sampleDescriptor))
	if err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	init := desc.InitCommands[0]
	if init.EndOfData.Kind != EndOfDataLength || init.EndOfData.Length != 7 {
		t.Fatalf("expected ReplyLength 7, got %#v", init.EndOfData)
	}

	var freq Command
	for _, c := range desc.ParamCommands {
		if strings.Contains(c.Command, "25000000") {
			freq = c
		}
	}
	if freq.EndOfData.Kind != EndOfDataString || freq.EndOfData.Marker != "FD" {
		t.Fatalf("expected ReplyEnd FD, got %#v", freq.EndOfData)
	}
	if len(freq.Values) != 1 || freq.Values[0] != "freq" {
		t.Fatalf("expected Values [freq], got %#v", freq.Values)
	}
}

func TestParseDataRejectsMissingEndOfData(t *testing.T) {
	_, err := ParseData([]byte("[BAD]\nCommand=FEFEFD\n"))
	if err == nil {
		t.Fatal("expected an error for a command missing ReplyEnd/replyLength")
	}
}

func TestParseDataRejectsBothEndOfDataFields(t *testing.T) {
	_, err := ParseData([]byte("[BAD]\nCommand=FEFEFD\nReplyLength=2\nReplyEnd=FD\n"))
	if err == nil {
		t.Fatal("expected an error when both ReplyEnd and replyLength are set")
	}
}

func TestCommandHexNormalizesSeparators(t *testing.T) {
	got, err := commandHex("fe fe-94:e0fd")
	if err != nil {
		t.Fatalf("commandHex: %v", err)
	}
	if got != "FE.FE.94.E0.FD" {
		t.Fatalf("expected FE.FE.94.E0.FD, got %q", got)
	}
}

func TestCommandHexRejectsOddLength(t *testing.T) {
	if _, err := commandHex("FEF"); err == nil {
		t.Fatal("expected an error for an odd number of hex digits")
	}
}

func TestDetermineCommandNameMatchesKnownSubstrings(t *testing.T) {
	cases := []struct {
		command string
		want    string
	}{
		{"SETFREQ0001", "set_freq"},
		{"SETMODE", "set_mode"},
		{"PTTON", "set_ptt"},
	}
	for _, c := range cases {
		got := determineCommandName(Command{Command: c.command})
		if got != c.want {
			t.Fatalf("determineCommandName(%q) = %q, want %q", c.command, got, c.want)
		}
	}
}

func TestDetermineCommandNameFallsBackToHexPrefix(t *testing.T) {
	got := determineCommandName(Command{Command: "FEFE94E01C0001FD"})
	if got != "cmd_fefe94e0" {
		t.Fatalf("expected cmd_fefe94e0, got %q", got)
	}
}

func TestTranslateProducesValidRigSections(t *testing.T) {
	desc, err := ParseData([]byte(sampleDescriptor))
	if err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	out, err := Translate(desc, "IC7300", "IC7300v1")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !strings.HasPrefix(out, "impl IC7300 for IC7300v1 {") {
		t.Fatalf("expected an impl header, got:\n%s", out)
	}
	if !strings.Contains(out, "init {") {
		t.Fatalf("expected an init block, got:\n%s", out)
	}
	if !strings.Contains(out, "status {") {
		t.Fatalf("expected a status block, got:\n%s", out)
	}
	if !strings.Contains(out, "fn set_freq()") {
		t.Fatalf("expected a set_freq fn, got:\n%s", out)
	}
	if !strings.Contains(out, "fn set_ptt()") {
		t.Fatalf("expected a set_ptt fn, got:\n%s", out)
	}
	if !strings.Contains(out, "TODO: ReplyEnd delimiter") {
		t.Fatalf("expected a TODO marker for the ReplyEnd command, got:\n%s", out)
	}
	if !strings.Contains(out, `write("FE.FE.94.E0.19.00.00.FD")`) {
		t.Fatalf("expected hex dot-formatted init write, got:\n%s", out)
	}
}

func TestTranslateDedupsCollidingNames(t *testing.T) {
	desc := &RigDescription{
		ParamCommands: []Command{
			{Command: "SETFREQ01", EndOfData: EndOfData{Kind: EndOfDataLength, Length: 1}},
			{Command: "SETFREQ02", EndOfData: EndOfData{Kind: EndOfDataLength, Length: 1}},
		},
	}
	out, err := Translate(desc, "R", "M")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !strings.Contains(out, "fn set_freq()") || !strings.Contains(out, "fn set_freq_2()") {
		t.Fatalf("expected set_freq and set_freq_2, got:\n%s", out)
	}
}
