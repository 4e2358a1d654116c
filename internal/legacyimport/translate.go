package legacyimport

import (
	"fmt"
	"strings"
)

// Translate renders a parsed legacy descriptor as .rig DSL source text
// implementing schemaName for rigModel. The init and status sections are
// emitted as plain statement sequences, matching this grammar's init{}/
// status{} blocks (unlike the legacy format, they carry no per-command
// name). Parameter commands become named fn definitions, one per entry,
// named by determineCommandName.
//
// The result is a best-effort draft: this grammar has no schema in hand
// at conversion time, so emitted fn definitions take no parameters and
// may need hand-editing (and a pass through rigvalidate) before they
// match a real schema's operations.
func Translate(desc *RigDescription, schemaName, rigModel string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "impl %s for %s {\n", schemaName, rigModel)

	if len(desc.InitCommands) > 0 {
		b.WriteString("\tinit {\n")
		for _, cmd := range desc.InitCommands {
			lines, err := commandStatements(cmd)
			if err != nil {
				return "", fmt.Errorf("init command %q: %w", cmd.Command, err)
			}
			for _, line := range lines {
				fmt.Fprintf(&b, "\t\t%s\n", line)
			}
		}
		b.WriteString("\t}\n\n")
	}

	if len(desc.StatusCommands) > 0 {
		b.WriteString("\tstatus {\n")
		for _, cmd := range desc.StatusCommands {
			lines, err := commandStatements(cmd)
			if err != nil {
				return "", fmt.Errorf("status command %q: %w", cmd.Command, err)
			}
			for _, line := range lines {
				fmt.Fprintf(&b, "\t\t%s\n", line)
			}
		}
		b.WriteString("\t}\n\n")
	}

	used := map[string]int{}
	for _, cmd := range desc.ParamCommands {
		name := uniqueName(used, determineCommandName(cmd))
		lines, err := commandStatements(cmd)
		if err != nil {
			return "", fmt.Errorf("command %q: %w", cmd.Command, err)
		}
		fmt.Fprintf(&b, "\tfn %s() {\n", name)
		for _, line := range lines {
			fmt.Fprintf(&b, "\t\t%s\n", line)
		}
		b.WriteString("\t}\n\n")
	}

	b.WriteString("}\n")
	return b.String(), nil
}

// determineCommandName guesses a meaningful fn name from the raw command
// bytes. This is the same heuristic the original OmniRig translator used:
// a handful of well-known substrings, falling back to a name derived from
// the command's own bytes when none match.
func determineCommandName(cmd Command) string {
	upper := strings.ToUpper(cmd.Command)
	switch {
	case strings.Contains(upper, "FREQ"):
		return "set_freq"
	case strings.Contains(upper, "MODE"):
		return "set_mode"
	case strings.Contains(upper, "PTT"):
		return "set_ptt"
	default:
		digits := strings.Map(func(r rune) rune {
			switch r {
			case ' ', '\t', '-', ':':
				return -1
			}
			return r
		}, cmd.Command)
		if digits == "" {
			return "cmd_unknown"
		}
		if len(digits) > 8 {
			digits = digits[:8]
		}
		return "cmd_" + strings.ToLower(digits)
	}
}

func uniqueName(used map[string]int, name string) string {
	used[name]++
	if used[name] == 1 {
		return name
	}
	return fmt.Sprintf("%s_%d", name, used[name])
}

// commandHex normalizes a legacy command's raw bytes (written as hex
// digits, optionally space- or dash-separated) into this grammar's
// dot-separated hex byte literal form, e.g. "FEFE94E0...FD".
func commandHex(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', ':':
			return -1
		}
		return r
	}, raw)
	if cleaned == "" {
		return "", fmt.Errorf("empty command")
	}
	if len(cleaned)%2 != 0 {
		return "", fmt.Errorf("command %q has an odd number of hex digits", raw)
	}
	parts := make([]string, 0, len(cleaned)/2)
	for i := 0; i < len(cleaned); i += 2 {
		pair := cleaned[i : i+2]
		if !isHexByte(pair) {
			return "", fmt.Errorf("command %q is not valid hex", raw)
		}
		parts = append(parts, strings.ToUpper(pair))
	}
	return strings.Join(parts, "."), nil
}

func isHexByte(pair string) bool {
	for _, r := range pair {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

// commandStatements renders one legacy command as the write()/read() pair
// this grammar uses. ReplyLength becomes a discard read() of that many
// bytes; ReplyEnd (a delimiter string rather than a fixed length) has no
// equivalent in this grammar's fixed-length read() template, so it is
// left as a TODO for a human to fill in, the same way the original
// translator left its own gaps commented rather than guessing.
func commandStatements(cmd Command) ([]string, error) {
	hex, err := commandHex(cmd.Command)
	if err != nil {
		return nil, err
	}
	lines := []string{fmt.Sprintf("write(\"%s\");", hex)}
	switch cmd.EndOfData.Kind {
	case EndOfDataLength:
		if cmd.EndOfData.Length > 0 {
			lines = append(lines, fmt.Sprintf("read(\"{_:%d}\");", cmd.EndOfData.Length))
		}
	case EndOfDataString:
		lines = append(lines, fmt.Sprintf(
			"// TODO: ReplyEnd delimiter %q has no fixed-length equivalent here; replace with a read() of the known reply width.",
			cmd.EndOfData.Marker,
		))
	}
	return lines, nil
}
