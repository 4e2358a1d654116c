// Package legacyimport translates a legacy OmniRig-style rig protocol
// descriptor (one INI file per rig model) into .rig DSL command
// definitions, so an existing library of rig descriptors doesn't have to
// be hand-transcribed into this codebase's command language. It has no
// obligation beyond producing a valid .rig file; a reimplementation may
// drop it entirely.
package legacyimport

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/openrigd/rigd/internal/apperror"
)

// EndOfDataKind distinguishes the two ways a legacy descriptor marks where
// a command's reply ends.
type EndOfDataKind int

const (
	// EndOfDataLength means the reply is exactly Length bytes.
	EndOfDataLength EndOfDataKind = iota
	// EndOfDataString means the reply is read until Marker is seen.
	EndOfDataString
)

// EndOfData is the ReplyLength/ReplyEnd pair from the legacy descriptor,
// exactly one of which is set per command.
type EndOfData struct {
	Kind   EndOfDataKind
	Length uint32
	Marker string
}

// Command is one legacy protocol entry: the command bytes to send plus
// how to recognise the end of its reply and, optionally, a validator and
// the value/flag placeholders OmniRig substituted into it.
type Command struct {
	Command   string
	EndOfData EndOfData
	Validate  string
	Value     string
	Values    []string
	Flags     []string
}

// RigDescription is a parsed legacy descriptor, bucketed the way OmniRig's
// own section-name convention does: a section named "init*" feeds
// InitCommands, "status*" feeds StatusCommands, everything else is a
// parameter (settable) command.
type RigDescription struct {
	InitCommands   []Command
	ParamCommands  []Command
	StatusCommands []Command
}

// ParseFile reads and parses a legacy INI rig descriptor at path.
func ParseFile(path string) (*RigDescription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindConfig, "reading legacy rig descriptor", err)
	}
	return ParseData(data)
}

// ParseData parses a legacy INI rig descriptor already read into memory.
func ParseData(data []byte) (*RigDescription, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, data)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindConfig, "parsing legacy rig descriptor", err)
	}
	return parse(cfg)
}

func parse(cfg *ini.File) (*RigDescription, error) {
	desc := &RigDescription{}
	for _, section := range cfg.Sections() {
		name := section.Name()
		if name == ini.DefaultSection && !section.HasKey("command") {
			continue
		}
		if !section.HasKey("command") {
			continue
		}
		cmd, err := sectionToCommand(section)
		if err != nil {
			return nil, fmt.Errorf("section %q: %w", name, err)
		}
		switch {
		case strings.HasPrefix(strings.ToUpper(name), "INIT"):
			desc.InitCommands = append(desc.InitCommands, cmd)
		case strings.HasPrefix(strings.ToUpper(name), "STATUS"):
			desc.StatusCommands = append(desc.StatusCommands, cmd)
		default:
			desc.ParamCommands = append(desc.ParamCommands, cmd)
		}
	}
	return desc, nil
}

func sectionToCommand(section *ini.Section) (Command, error) {
	cmd := Command{
		Command:  section.Key("command").String(),
		Validate: section.Key("validate").String(),
		Value:    section.Key("value").String(),
	}

	replyEnd := section.Key("replyend").String()
	replyLength := section.Key("replylength").String()
	switch {
	case replyEnd != "" && replyLength != "":
		return cmd, fmt.Errorf("cannot have both ReplyEnd and replyLength")
	case replyLength != "":
		n, err := strconv.ParseUint(replyLength, 10, 32)
		if err != nil {
			return cmd, fmt.Errorf("invalid replyLength %q: %w", replyLength, err)
		}
		cmd.EndOfData = EndOfData{Kind: EndOfDataLength, Length: uint32(n)}
	case replyEnd != "":
		cmd.EndOfData = EndOfData{Kind: EndOfDataString, Marker: replyEnd}
	default:
		return cmd, fmt.Errorf("missing ReplyEnd or replyLength")
	}

	var values, flags []indexedValue
	for _, key := range section.Keys() {
		name := strings.ToLower(key.Name())
		if idx, ok := strings.CutPrefix(name, "value"); ok {
			if n, err := strconv.Atoi(idx); err == nil {
				values = append(values, indexedValue{n, key.String()})
			}
		} else if idx, ok := strings.CutPrefix(name, "flag"); ok {
			if n, err := strconv.Atoi(idx); err == nil {
				flags = append(flags, indexedValue{n, key.String()})
			}
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i].index < values[j].index })
	sort.Slice(flags, func(i, j int) bool { return flags[i].index < flags[j].index })
	for _, v := range values {
		cmd.Values = append(cmd.Values, v.value)
	}
	for _, f := range flags {
		cmd.Flags = append(cmd.Flags, f.value)
	}

	if cmd.Command == "" {
		return cmd, fmt.Errorf("missing Command")
	}
	return cmd, nil
}

type indexedValue struct {
	index int
	value string
}
