package comshim

import (
	"testing"

	"github.com/openrigd/rigd/internal/apperror"
)

func TestDispatchInvokeUnavailableOffWindows(t *testing.T) {
	r := NewRouter(nil, "rig1", nil)
	_, err := r.DispatchInvoke(1, []string{"14250000"})
	if err == nil {
		t.Fatal("expected an error on a non-windows build")
	}
	if !apperror.Is(err, apperror.KindClient) {
		t.Fatalf("expected a KindClient error, got %#v", err)
	}
}

func TestNewRouterBindsDeviceID(t *testing.T) {
	r := NewRouter(nil, "rig7", Table{9: {Command: "set_freq"}})
	if r.table[9].DeviceID != "rig7" {
		t.Fatalf("expected dispid 9 bound to rig7, got %#v", r.table[9])
	}
}
