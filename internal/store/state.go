package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/domo-bridge/internal/bridges/algodomo"
)

// defaultFlushDelay is how long after the last mutation the state
// document is flushed to disk. Mutations landing inside the window
// ride the already-scheduled flush.
const defaultFlushDelay = 200 * time.Millisecond

// State is the process-wide derived state, persisted to state.json.
// Board snapshots are keyed by the decimal bus address.
type State struct {
	Boards      map[string]algodomo.BoardSnapshot `json:"boards"`
	Lights      map[string]DerivedLightState      `json:"lights"`
	Shutters    map[string]DerivedShutterState    `json:"shutters"`
	Thermostats map[string]DerivedThermostatState `json:"thermostats"`
	UpdatedAt   int64                             `json:"updatedAt"`
}

// DerivedLightState is what the bridge believes about a light. IsOn is
// nil while unknown. LastAction records the raw commanded action even
// when it cannot be confirmed by a poll (toggle_no_ack).
type DerivedLightState struct {
	IsOn       *bool  `json:"isOn"`
	LastAction string `json:"lastAction,omitempty"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// DerivedShutterState records the last commanded shutter action.
type DerivedShutterState struct {
	LastAction string `json:"lastAction"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// DerivedThermostatState records the last commanded setpoint.
type DerivedThermostatState struct {
	Setpoint  float64 `json:"setpoint"`
	UpdatedAt int64   `json:"updatedAt"`
}

// Publisher receives a notification after every state mutation. Used
// to fan state out to MQTT. It runs synchronously in the mutating
// caller's goroutine, so the caller waits for it to return.
type Publisher func(kind, id string, payload any)

// StateStore keeps the derived state in memory and flushes it to disk
// coalesced: a mutation schedules a write ~200 ms later, and further
// mutations inside the window share it. All methods are safe for
// concurrent use.
type StateStore struct {
	path       string
	flushDelay time.Duration

	mu           sync.Mutex
	state        State
	flushPending bool
	closed       bool

	publish Publisher

	logger Logger
}

// Logger is the optional logging interface accepted by the store.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
}

// OpenState loads state.json from path, starting empty if the file is
// absent or unreadable as JSON. Derived state is reconstructible from
// the bus, so a corrupt file is dropped rather than fatal.
func OpenState(path string) (*StateStore, error) {
	s := &StateStore{
		path:       path,
		flushDelay: defaultFlushDelay,
	}
	s.state = emptyState()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var loaded State
		if jsonErr := json.Unmarshal(data, &loaded); jsonErr == nil {
			s.state = loaded
			s.ensureMaps()
		}
	case errors.Is(err, os.ErrNotExist):
		// First start.
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return s, nil
}

func emptyState() State {
	return State{
		Boards:      make(map[string]algodomo.BoardSnapshot),
		Lights:      make(map[string]DerivedLightState),
		Shutters:    make(map[string]DerivedShutterState),
		Thermostats: make(map[string]DerivedThermostatState),
	}
}

// ensureMaps repairs nil maps after unmarshalling a partial document.
func (s *StateStore) ensureMaps() {
	if s.state.Boards == nil {
		s.state.Boards = make(map[string]algodomo.BoardSnapshot)
	}
	if s.state.Lights == nil {
		s.state.Lights = make(map[string]DerivedLightState)
	}
	if s.state.Shutters == nil {
		s.state.Shutters = make(map[string]DerivedShutterState)
	}
	if s.state.Thermostats == nil {
		s.state.Thermostats = make(map[string]DerivedThermostatState)
	}
}

// SetLogger sets the optional logger.
func (s *StateStore) SetLogger(logger Logger) {
	s.logger = logger
}

// SetPublisher installs the optional mutation publisher.
func (s *StateStore) SetPublisher(p Publisher) {
	s.publish = p
}

// Snapshot returns the latest poll result for a bus address.
func (s *StateStore) Snapshot(address int) (algodomo.BoardSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.state.Boards[strconv.Itoa(address)]
	return snap, ok
}

// SetSnapshot stores a freshly decoded poll result under its address.
func (s *StateStore) SetSnapshot(snap algodomo.BoardSnapshot) {
	s.mutate(func(st *State) {
		st.Boards[strconv.Itoa(snap.Address)] = snap
	})
	s.notify("board", strconv.Itoa(snap.Address), snap)
}

// LightState returns the derived state of a light.
func (s *StateStore) LightState(id string) (DerivedLightState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state.Lights[id]
	return st, ok
}

// SetLightState records what the bridge now believes about a light.
func (s *StateStore) SetLightState(id string, isOn *bool, action string) {
	var entry DerivedLightState
	s.mutate(func(st *State) {
		entry = DerivedLightState{
			IsOn:       isOn,
			LastAction: action,
			UpdatedAt:  time.Now().UnixMilli(),
		}
		st.Lights[id] = entry
	})
	s.notify("light", id, entry)
}

// ShutterState returns the derived state of a shutter.
func (s *StateStore) ShutterState(id string) (DerivedShutterState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state.Shutters[id]
	return st, ok
}

// SetShutterState records the last commanded shutter action.
func (s *StateStore) SetShutterState(id, action string) {
	var entry DerivedShutterState
	s.mutate(func(st *State) {
		entry = DerivedShutterState{
			LastAction: action,
			UpdatedAt:  time.Now().UnixMilli(),
		}
		st.Shutters[id] = entry
	})
	s.notify("shutter", id, entry)
}

// ThermostatState returns the derived state of a thermostat.
func (s *StateStore) ThermostatState(id string) (DerivedThermostatState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state.Thermostats[id]
	return st, ok
}

// SetThermostatState records the last commanded setpoint.
func (s *StateStore) SetThermostatState(id string, setpoint float64) {
	var entry DerivedThermostatState
	s.mutate(func(st *State) {
		entry = DerivedThermostatState{
			Setpoint:  setpoint,
			UpdatedAt: time.Now().UnixMilli(),
		}
		st.Thermostats[id] = entry
	})
	s.notify("thermostat", id, entry)
}

// View returns a copy of the full state for aggregation. Map values
// are value types, so a shallow per-map copy is enough.
func (s *StateStore) View() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := State{
		Boards:      make(map[string]algodomo.BoardSnapshot, len(s.state.Boards)),
		Lights:      make(map[string]DerivedLightState, len(s.state.Lights)),
		Shutters:    make(map[string]DerivedShutterState, len(s.state.Shutters)),
		Thermostats: make(map[string]DerivedThermostatState, len(s.state.Thermostats)),
		UpdatedAt:   s.state.UpdatedAt,
	}
	for k, v := range s.state.Boards {
		view.Boards[k] = v
	}
	for k, v := range s.state.Lights {
		view.Lights[k] = v
	}
	for k, v := range s.state.Shutters {
		view.Shutters[k] = v
	}
	for k, v := range s.state.Thermostats {
		view.Thermostats[k] = v
	}
	return view
}

// mutate applies fn under the lock, stamps UpdatedAt and schedules the
// coalesced flush. A flush already pending is left in place: it will
// pick up this mutation too.
func (s *StateStore) mutate(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.state)
	s.state.UpdatedAt = time.Now().UnixMilli()

	if s.closed || s.flushPending {
		return
	}
	s.flushPending = true
	time.AfterFunc(s.flushDelay, s.flushScheduled)
}

// flushScheduled is the timer callback for a coalesced flush.
func (s *StateStore) flushScheduled() {
	if err := s.Flush(); err != nil && s.logger != nil {
		s.logger.Warn("state flush failed", "error", err)
	}
}

// Flush writes the state document immediately.
func (s *StateStore) Flush() error {
	s.mu.Lock()
	s.flushPending = false
	data, err := marshalDocument(s.state)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data)
}

// Close stops scheduling and performs a final flush.
func (s *StateStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Flush()
}

// notify fans a mutation out to the publisher, if one is installed.
func (s *StateStore) notify(kind, id string, payload any) {
	if s.publish != nil {
		s.publish(kind, id, payload)
	}
}
