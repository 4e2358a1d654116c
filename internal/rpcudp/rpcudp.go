// Package rpcudp implements rigd's canonical external interface: a
// JSON-RPC 2.0 server over UDP. Every request is a single datagram;
// every response (or notification) is a single datagram back to the
// sender's address.
package rpcudp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/openrigd/rigd/dsl/interp"
	"github.com/openrigd/rigd/internal/apperror"
	"github.com/openrigd/rigd/internal/manager"
	"github.com/openrigd/rigd/internal/rigdlog"
)

const maxDatagram = 2048

// Standard and domain JSON-RPC error codes, per the wire contract.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603

	codeRigCommunication   = -32000
	codeInvalidCommandArgs = -32001
	codeSubscriptionError  = -32002
	codeMissingRigID       = -32003
	codeUnknownRigID       = -32004
	codeUnknownCommand     = -32005
	codeUnknownFields      = -32006
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// Server is the JSON-RPC/UDP adapter. Create with New and run with Serve.
type Server struct {
	mgr  *manager.Manager
	conn *net.UDPConn

	mu   sync.Mutex
	subs map[subKey]*subscription
}

type subKey struct {
	rigID string
	addr  string
}

// RigID unmarshals a request's rig_id. Some clients send it as a bare
// JSON number (`"rig_id":0`), others as a string; device ids are string
// keys everywhere else in this codebase, so both wire shapes are accepted
// here and normalized to the string form used as the device-map key.
type RigID string

func (id *RigID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = RigID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("rig_id must be a JSON string or number: %w", err)
	}
	*id = RigID(n.String())
	return nil
}

type subscription struct {
	rigID  string
	addr   *net.UDPAddr
	fields map[string]struct{}
}

// New binds a UDP socket at addr and wires it to mgr's broadcast bus.
func New(mgr *manager.Manager, addr string) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindConfig, "resolving rpcudp bind address", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindConfig, "binding rpcudp socket", err)
	}
	return &Server{mgr: mgr, conn: conn, subs: map[subKey]*subscription{}}, nil
}

// Serve reads requests and dispatches Manager broadcasts until ctx is
// cancelled. Run it in its own goroutine.
func (s *Server) Serve(ctx context.Context) {
	log := rigdlog.For("rpcudp")
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
				s.handleBroadcast(msg)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Debug().Err(err).Msg("rpcudp read failed")
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		go s.handleDatagram(ctx, data, addr)
	}
}

func (s *Server) handleDatagram(ctx context.Context, data []byte, addr *net.UDPAddr) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		s.send(addr, response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "invalid JSON"}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.send(addr, response{JSONRPC: "2.0", Error: &rpcError{Code: codeInvalidRequest, Message: "not a JSON-RPC 2.0 request"}, ID: req.ID})
		return
	}

	result, rpcErr := s.dispatch(ctx, req, addr)
	resp := response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	s.send(addr, resp)
}

func (s *Server) dispatch(ctx context.Context, req request, addr *net.UDPAddr) (interface{}, *rpcError) {
	switch req.Method {
	case "list_rigs":
		return s.listRigs(), nil
	case "subscribe_status":
		return s.subscribeStatus(req.Params, addr)
	case "get_capabilities":
		return s.getCapabilities(req.Params)
	case "execute_command":
		return s.executeCommand(ctx, req.Params)
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

func (s *Server) listRigs() map[string]bool {
	out := map[string]bool{}
	for _, d := range s.mgr.ListDevices() {
		out[d.DeviceID] = d.Connected
	}
	return out
}

type subscribeParams struct {
	RigID  RigID    `json:"rig_id"`
	Fields []string `json:"fields"`
}

func (s *Server) subscribeStatus(raw json.RawMessage, addr *net.UDPAddr) (interface{}, *rpcError) {
	var p subscribeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid subscribe_status params"}
	}
	if p.RigID == "" {
		return nil, &rpcError{Code: codeMissingRigID, Message: "missing rig_id"}
	}
	rigID := string(p.RigID)
	if _, ok := s.mgr.RigModelOf(rigID); !ok {
		return nil, &rpcError{Code: codeUnknownRigID, Message: fmt.Sprintf("unknown rig %q", rigID)}
	}

	fields := make(map[string]struct{}, len(p.Fields))
	for _, f := range p.Fields {
		fields[f] = struct{}{}
	}

	key := subKey{rigID: rigID, addr: addr.String()}
	s.mu.Lock()
	// A subsequent call for the same (rig_id, address) replaces, never
	// merges, the previous field set.
	s.subs[key] = &subscription{rigID: rigID, addr: addr, fields: fields}
	s.mu.Unlock()
	return map[string]bool{"subscribed": true}, nil
}

type capabilitiesParams struct {
	RigID RigID `json:"rig_id"`
}

func (s *Server) getCapabilities(raw json.RawMessage) (interface{}, *rpcError) {
	var p capabilitiesParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid get_capabilities params"}
	}
	if p.RigID == "" {
		return nil, &rpcError{Code: codeMissingRigID, Message: "missing rig_id"}
	}
	rigModel, ok := s.mgr.RigModelOf(string(p.RigID))
	if !ok {
		return nil, &rpcError{Code: codeUnknownRigID, Message: fmt.Sprintf("unknown rig %q", p.RigID)}
	}
	it, ok := s.mgr.Interpreter(rigModel)
	if !ok {
		return nil, &rpcError{Code: codeUnknownRigID, Message: fmt.Sprintf("unknown rig model %q", rigModel)}
	}

	schema := it.Schema()
	commands := map[string]interface{}{}
	for _, name := range it.CommandNames() {
		params, ok := schema.Commands[name]
		if !ok {
			continue
		}
		paramTypes := map[string]string{}
		for _, p := range params {
			paramTypes[p.Name] = p.Type.String()
		}
		commands[name] = map[string]interface{}{"parameters": paramTypes}
	}

	// Restricted to the fields the rig's status block actually publishes,
	// not the schema's full status set: advertising a field no set_var ever
	// touches would invite subscriptions that can never fire.
	statusFields := map[string]string{}
	for _, name := range it.StatusFieldNames() {
		typ, ok := schema.Status[name]
		if !ok {
			continue
		}
		statusFields[name] = typ.String()
	}

	return map[string]interface{}{
		"commands":      commands,
		"status_fields": statusFields,
	}, nil
}

type executeParams struct {
	RigID      RigID             `json:"rig_id"`
	Command    string            `json:"command"`
	Parameters map[string]string `json:"parameters"`
}

func (s *Server) executeCommand(ctx context.Context, raw json.RawMessage) (interface{}, *rpcError) {
	var p executeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid execute_command params"}
	}
	if p.RigID == "" {
		return nil, &rpcError{Code: codeMissingRigID, Message: "missing rig_id"}
	}
	// Command existence is checked against the one shared schema before
	// rig_id is resolved to a device, mirroring the canonical JSON-RPC
	// handler (RigRpcHandler::execute_command checks schema.commands
	// first; which rig is asking is only consulted afterward). This is
	// what makes an unknown command report codeUnknownCommand even for a
	// rig_id that isn't registered.
	if _, ok := s.mgr.Schema().Commands[p.Command]; !ok {
		return nil, &rpcError{Code: codeUnknownCommand, Message: fmt.Sprintf("unknown command %q", p.Command)}
	}
	rigID := string(p.RigID)
	rigModel, ok := s.mgr.RigModelOf(rigID)
	if !ok {
		return nil, &rpcError{Code: codeUnknownRigID, Message: fmt.Sprintf("unknown rig %q", rigID)}
	}
	if _, ok := s.mgr.Interpreter(rigModel); !ok {
		return nil, &rpcError{Code: codeUnknownRigID, Message: fmt.Sprintf("unknown rig model %q", rigModel)}
	}

	out, err := s.mgr.ExecuteCommand(ctx, rigID, p.Command, p.Parameters)
	if err != nil {
		if apperror.Is(err, apperror.KindIO) || apperror.Is(err, apperror.KindProtocol) {
			return nil, &rpcError{Code: codeRigCommunication, Message: err.Error()}
		}
		return nil, &rpcError{Code: codeInvalidCommandArgs, Message: err.Error()}
	}
	return renderValues(out), nil
}

func (s *Server) handleBroadcast(msg manager.Message) {
	update, ok := msg.(manager.StatusUpdate)
	if !ok {
		return
	}

	s.mu.Lock()
	var stale []subKey
	targets := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.rigID == update.DeviceID {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range targets {
		filtered := map[string]interface{}{}
		for name, v := range update.Values {
			if len(sub.fields) > 0 {
				if _, want := sub.fields[name]; !want {
					continue
				}
			}
			filtered[name] = renderValue(v)
		}
		if len(filtered) == 0 {
			continue
		}
		note := notification{
			JSONRPC: "2.0",
			Method:  "status_update",
			Params:  map[string]interface{}{"rig_id": update.DeviceID, "updates": filtered},
		}
		if err := s.sendRaw(sub.addr, note); err != nil {
			key := subKey{rigID: sub.rigID, addr: sub.addr.String()}
			stale = append(stale, key)
		}
	}

	if len(stale) > 0 {
		s.mu.Lock()
		for _, key := range stale {
			delete(s.subs, key)
		}
		s.mu.Unlock()
	}
}

func (s *Server) send(addr *net.UDPAddr, v interface{}) {
	if err := s.sendRaw(addr, v); err != nil {
		rigdlog.For("rpcudp").Debug().Err(err).Msg("failed to send response")
	}
}

func (s *Server) sendRaw(addr *net.UDPAddr, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(data, addr)
	return err
}

// renderValues converts an ExecuteCommand result map to its JSON shape:
// Integer -> number, Boolean -> bool, EnumVariant -> its variant name.
func renderValues(values map[string]interp.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for name, v := range values {
		out[name] = renderValue(v)
	}
	return out
}

func renderValue(v interp.Value) interface{} {
	switch t := v.(type) {
	case interp.Integer:
		return int64(t)
	case interp.Float:
		return float64(t)
	case interp.Boolean:
		return bool(t)
	case interp.EnumVariant:
		return t.Variant
	case interp.String:
		return string(t)
	case interp.Bytes:
		return []byte(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}
