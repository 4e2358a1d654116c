//go:build windows

package comshim

import (
	"context"
	"fmt"

	"golang.org/x/sys/windows"

	"github.com/openrigd/rigd/dsl/interp"
	"github.com/openrigd/rigd/internal/apperror"
)

// DispatchInvoke looks up dispid in the Router's table and runs the
// mapped command against its device, the way an IDispatch::Invoke call
// from the legacy GUI would. args are the COM call's positional
// arguments, already stringified by the caller's variant marshalling.
func (r *Router) DispatchInvoke(dispid int32, args []string) (map[string]interp.Value, error) {
	m, ok := r.table[dispid]
	if !ok {
		return nil, apperror.New(apperror.KindClient, fmt.Sprintf("unknown COM dispid %d", dispid))
	}

	params, err := positionalParams(m.Command, args)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindClient, "marshalling COM invoke arguments", err)
	}

	return r.mgr.ExecuteCommand(context.Background(), m.DeviceID, m.Command, params)
}

// positionalParams maps a COM call's positional string arguments onto the
// named parameters execute_command expects, in the fixed order each of
// the legacy GUI's dispid commands declares them.
func positionalParams(command string, args []string) (map[string]string, error) {
	names, ok := paramOrder[command]
	if !ok {
		return nil, fmt.Errorf("no parameter order registered for command %q", command)
	}
	if len(args) != len(names) {
		return nil, fmt.Errorf("command %q expects %d arguments, got %d", command, len(names), len(args))
	}
	out := make(map[string]string, len(names))
	for i, name := range names {
		out[name] = args[i]
	}
	return out, nil
}

var paramOrder = map[string][]string{
	"set_freq":  {"freq"},
	"set_mode":  {"mode"},
	"transmit":  {"tx"},
	"set_split": {"split"},
	"set_vfo":   {"rx", "tx"},
}

// initCOM performs the one-time CoInitializeEx call a process embedding
// this shim as an in-process COM server needs before registering any
// IDispatch objects.
func initCOM() error {
	return windows.CoInitializeEx(0, windows.COINIT_APARTMENTTHREADED)
}
