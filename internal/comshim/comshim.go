// Package comshim routes the Windows COM Invoke dispids the legacy GUI
// exposed into rigd's execute_command path. The routing table is the
// only part of this shim that matters on every platform; the actual
// OLE plumbing DispatchInvoke performs is build-tagged, since it only
// exists on windows.
package comshim

import "github.com/openrigd/rigd/internal/manager"

// mapping is one dispid's target: which device and which command a COM
// Invoke call against it should dispatch to.
type mapping struct {
	DeviceID string
	Command  string
}

// Table maps a COM dispid to the (device, command) pair it invokes. It is
// small and static, matching the handful of dispids the legacy GUI editor
// exposed (freq, mode, ptt, split, …).
type Table map[int32]mapping

// DefaultTable is the dispid assignment the legacy GUI used, preserved so
// existing COM clients keep working unmodified.
var DefaultTable = Table{
	1: {Command: "set_freq"},
	2: {Command: "set_mode"},
	3: {Command: "transmit"},
	4: {Command: "set_split"},
	5: {Command: "set_vfo"},
}

// Router binds a Table to a Manager so a dispatched dispid can actually
// reach a device.
type Router struct {
	mgr   *manager.Manager
	table Table
}

// NewRouter builds a Router over mgr using table (DefaultTable if table is
// nil). deviceID fills in every mapping's DeviceID, since a COM Invoke
// call carries no device identity of its own — one COM object instance
// controls exactly one device, the same way one rigctld instance does.
func NewRouter(mgr *manager.Manager, deviceID string, table Table) *Router {
	if table == nil {
		table = DefaultTable
	}
	bound := make(Table, len(table))
	for dispid, m := range table {
		m.DeviceID = deviceID
		bound[dispid] = m
	}
	return &Router{mgr: mgr, table: bound}
}
