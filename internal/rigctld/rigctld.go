// Package rigctld implements the line-oriented, hamlib rigctld-compatible
// TCP adapter: one letter command per line, answered with either
// "RPRT <code>\n" for a setter or a bare value line for a getter. It
// keeps its own mirror of the device's latest status (fed by the
// Manager's broadcast bus) so getters never have to touch the device.
package rigctld

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/openrigd/rigd/dsl/interp"
	"github.com/openrigd/rigd/internal/apperror"
	"github.com/openrigd/rigd/internal/manager"
	"github.com/openrigd/rigd/internal/rigdlog"
)

// Server is a rigctld-compatible TCP adapter bound to a single device, the
// way a real rigctld process serves exactly one rig per instance.
type Server struct {
	mgr      *manager.Manager
	deviceID string
	listener net.Listener

	mu     sync.RWMutex
	mirror map[string]interp.Value
	vfo    string
}

// New binds a TCP listener at addr and tracks deviceID's status mirror.
func New(mgr *manager.Manager, deviceID, addr string) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindConfig, "binding rigctld socket", err)
	}
	return &Server{mgr: mgr, deviceID: deviceID, listener: l, mirror: map[string]interp.Value{}, vfo: "A"}, nil
}

// Serve accepts connections and mirrors broadcast status until ctx is
// cancelled. Run it in its own goroutine.
func (s *Server) Serve(ctx context.Context) {
	log := rigdlog.For("rigctld")
	broadcasts := s.mgr.Subscribe()
	defer s.mgr.Unsubscribe(broadcasts)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-broadcasts:
				if !ok {
					return
				}
				s.applyBroadcast(msg)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Debug().Err(err).Msg("rigctld accept failed")
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) applyBroadcast(msg manager.Message) {
	update, ok := msg.(manager.StatusUpdate)
	if !ok || update.DeviceID != s.deviceID {
		return
	}
	s.mu.Lock()
	for k, v := range update.Values {
		s.mirror[k] = v
	}
	s.mu.Unlock()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply, quit := s.dispatch(ctx, line)
		if reply != "" {
			fmt.Fprint(conn, reply)
		}
		if quit {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, line string) (reply string, quit bool) {
	fields := strings.Fields(line)
	letter := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch letter {
	case "F":
		return s.setCommand(ctx, "set_freq", map[string]string{"freq": arg}), false
	case "f":
		return s.getField(s.freqFieldName()) + "\n", false
	case "M":
		return s.setCommand(ctx, "set_mode", map[string]string{"mode": arg}), false
	case "m":
		return s.getField("mode") + " 0\n", false
	case "V":
		return s.setVfo(ctx, arg), false
	case "v":
		return "VFO" + s.getField("vfo") + "\n", false
	case "T":
		return s.setCommand(ctx, "transmit", map[string]string{"tx": arg}), false
	case "t":
		return s.getField("ptt") + "\n", false
	case "S":
		return s.setCommand(ctx, "set_split", map[string]string{"split": arg}), false
	case "s":
		return "0\n", false
	case "J":
		return "RPRT -1\n", false
	case "j":
		return s.getField("rit") + "\n", false
	case "Z":
		return "RPRT -1\n", false
	case "z":
		return s.getField("xit") + "\n", false
	case "q":
		return "", true
	default:
		return "RPRT -1\n", false
	}
}

func (s *Server) setVfo(ctx context.Context, arg string) string {
	s.mu.Lock()
	s.vfo = arg
	s.mu.Unlock()
	return s.setCommand(ctx, "set_vfo", map[string]string{"rx": arg, "tx": arg})
}

func (s *Server) freqFieldName() string {
	s.mu.RLock()
	vfo := s.vfo
	s.mu.RUnlock()
	if vfo == "B" {
		return "freq_b"
	}
	return "freq_a"
}

func (s *Server) getField(name string) string {
	s.mu.RLock()
	v, ok := s.mirror[name]
	s.mu.RUnlock()
	if !ok {
		return "0"
	}
	return renderPlain(v)
}

func (s *Server) setCommand(ctx context.Context, command string, params map[string]string) string {
	if _, err := s.mgr.ExecuteCommand(ctx, s.deviceID, command, params); err != nil {
		rigdlog.For("rigctld").Debug().Err(err).Str("command", command).Msg("command failed")
		return "RPRT -1\n"
	}
	return "RPRT 0\n"
}

func renderPlain(v interp.Value) string {
	switch t := v.(type) {
	case interp.Integer:
		return strconv.FormatInt(int64(t), 10)
	case interp.Float:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	case interp.Boolean:
		if t {
			return "1"
		}
		return "0"
	case interp.EnumVariant:
		return t.Variant
	case interp.String:
		return string(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}
