package api

import (
	"fmt"
	"net/http"
	"strconv"
)

// queryInt parses an optional integer query parameter. Absent values
// return (nil, nil); present but unparsable values return an error.
func queryInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", name, err)
	}
	return &v, nil
}

// requireAddress parses a mandatory address parameter.
func requireAddress(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("address")
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// handleLight drives a relay: ?id=…|address=…&relay=…&action=….
func (s *Server) handleLight(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	action := r.URL.Query().Get("action")
	if action == "" {
		writeError(w, http.StatusBadRequest, msgMissingParameter)
		return
	}

	address, err := queryInt(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidParameter)
		return
	}
	relay, err := queryInt(r, "relay")
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidParameter)
		return
	}
	if id == "" && address == nil {
		writeError(w, http.StatusBadRequest, msgMissingParameter)
		return
	}

	result, err := s.control.Light(r.Context(), id, address, relay, action)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"entity": result.Entity,
		"action": result.Action,
		"state":  result.State,
	})
}

// handleShutter drives a roller blind: ?id=…|address=…&channel=…&action=….
func (s *Server) handleShutter(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	action := r.URL.Query().Get("action")
	if action == "" {
		writeError(w, http.StatusBadRequest, msgMissingParameter)
		return
	}

	address, err := queryInt(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidParameter)
		return
	}
	channel, err := queryInt(r, "channel")
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidParameter)
		return
	}
	if id == "" && address == nil {
		writeError(w, http.StatusBadRequest, msgMissingParameter)
		return
	}

	result, err := s.control.Shutter(r.Context(), id, address, channel, action)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"entity": result.Entity,
		"action": result.Action,
		"state":  result.State,
	})
}

// handleThermostat writes a setpoint: ?id=…|address=…&set=<real>.
func (s *Server) handleThermostat(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	rawSet := r.URL.Query().Get("set")
	if rawSet == "" {
		writeError(w, http.StatusBadRequest, msgMissingParameter)
		return
	}
	set, err := strconv.ParseFloat(rawSet, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidParameter)
		return
	}

	address, err := queryInt(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidParameter)
		return
	}
	if id == "" && address == nil {
		writeError(w, http.StatusBadRequest, msgMissingParameter)
		return
	}

	result, err := s.control.Thermostat(r.Context(), id, address, set)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"entity":   result.Entity,
		"setpoint": result.Setpoint,
		"state":    result.State,
	})
}

// handlePoll polls one board: ?address=….
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	address, ok := requireAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgMissingParameter)
		return
	}

	snapshot, err := s.control.Poll(r.Context(), address)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"snapshot": snapshot,
	})
}

// handleApplyInputs pushes input configurations:
// ?[board=…][&address=…]. Per-input failures are collected; the
// top-level ok is their logical AND.
func (s *Server) handleApplyInputs(w http.ResponseWriter, r *http.Request) {
	board := r.URL.Query().Get("board")
	address, err := queryInt(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidParameter)
		return
	}

	result, err := s.control.ApplyInputs(r.Context(), board, address)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      result.OK,
		"results": result.Results,
	})
}

// handleProgramAddress runs the raw address-programming handshake:
// ?address=….
func (s *Server) handleProgramAddress(w http.ResponseWriter, r *http.Request) {
	address, ok := requireAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgMissingParameter)
		return
	}

	result, err := s.control.ProgramAddress(r.Context(), address)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"ack":    result.Ack,
		"ackHex": result.AckHex,
	})
}
