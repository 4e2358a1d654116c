//go:build !windows

package comshim

import (
	"fmt"

	"github.com/openrigd/rigd/dsl/interp"
	"github.com/openrigd/rigd/internal/apperror"
)

// DispatchInvoke is a stub outside windows: there is no OLE runtime to
// receive an IDispatch::Invoke call on, so every dispid is rejected.
func (r *Router) DispatchInvoke(dispid int32, args []string) (map[string]interp.Value, error) {
	return nil, apperror.New(apperror.KindClient, fmt.Sprintf("COM bridge unavailable on this platform (dispid %d)", dispid))
}
