package control

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nerrad567/domo-bridge/internal/audit"
	"github.com/nerrad567/domo-bridge/internal/bridges/algodomo"
	"github.com/nerrad567/domo-bridge/internal/entity"
	"github.com/nerrad567/domo-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/domo-bridge/internal/store"
)

// Service executes the bridge's commands: it resolves the target
// entity, serialises on the board's address, transacts with the
// gateway and updates the derived state.
//
// Every command follows the same shape: resolve, lock, build frame,
// transact, decode, update state. Commands never retry; the caller
// decides.
type Service struct {
	config  *store.ConfigStore
	state   *store.StateStore
	gateway *algodomo.Client
	locks   *algodomo.AddressLocks
	audit   audit.Recorder
	logger  *logging.Logger
}

// Deps holds the dependencies required by the service. Audit and
// Logger are optional.
type Deps struct {
	Config  *store.ConfigStore
	State   *store.StateStore
	Gateway *algodomo.Client
	Locks   *algodomo.AddressLocks
	Audit   audit.Recorder
	Logger  *logging.Logger
}

// New creates the command service.
func New(deps Deps) (*Service, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config store is required")
	}
	if deps.State == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway client is required")
	}
	if deps.Locks == nil {
		return nil, fmt.Errorf("address locks are required")
	}

	return &Service{
		config:  deps.Config,
		state:   deps.State,
		gateway: deps.Gateway,
		locks:   deps.Locks,
		audit:   deps.Audit,
		logger:  deps.Logger,
	}, nil
}

// LightResult is the outcome of a light command.
type LightResult struct {
	Entity entity.Light            `json:"entity"`
	Action string                  `json:"action"`
	State  store.DerivedLightState `json:"state"`
}

// Light resolves a light and drives its relay.
//
// After the command reply a best-effort poll refreshes the board
// snapshot; a failed poll is ignored and the light state falls back to
// the inference rule.
func (s *Service) Light(ctx context.Context, id string, address, relay *int, action string) (LightResult, error) {
	doc := s.config.Get()
	light, err := doc.ResolveLight(id, address, relay)
	if err != nil {
		return LightResult{}, err
	}

	action = strings.ToLower(action)
	code, ok := algodomo.LightAction(action)
	if !ok {
		return LightResult{}, fmt.Errorf("%w: %q", algodomo.ErrUnknownAction, action)
	}

	frame, err := algodomo.LightFrame(light.Address, light.Relay, code)
	if err != nil {
		return LightResult{}, err
	}

	release := s.locks.Acquire(byte(light.Address))
	defer release()

	_, txErr := s.gateway.TransactFrame(ctx, frame, 0)
	s.record(ctx, "light", light.Address, "light", light.ID, frame.Hex(), txErr)
	if txErr != nil {
		return LightResult{}, txErr
	}

	// Best-effort poll; failure must not affect the primary reply.
	var snap *algodomo.BoardSnapshot
	if polled, pollErr := s.pollLocked(ctx, light.Address); pollErr == nil {
		snap = &polled
	} else if s.logger != nil {
		s.logger.Debug("post-command poll failed", "address", light.Address, "error", pollErr)
	}

	prev, _ := s.state.LightState(light.ID)
	isOn := inferLightState(light.Relay, snap, prev.IsOn, action)
	s.state.SetLightState(light.ID, isOn, action)

	derived, _ := s.state.LightState(light.ID)
	return LightResult{Entity: light, Action: action, State: derived}, nil
}

// ShutterResult is the outcome of a shutter command.
type ShutterResult struct {
	Entity entity.Shutter            `json:"entity"`
	Action string                    `json:"action"`
	State  store.DerivedShutterState `json:"state"`
}

// Shutter resolves a shutter and drives its channel. There is no
// post-command poll: shutter position is not observable on this wire.
func (s *Service) Shutter(ctx context.Context, id string, address, channel *int, action string) (ShutterResult, error) {
	doc := s.config.Get()
	shutter, err := doc.ResolveShutter(id, address, channel)
	if err != nil {
		return ShutterResult{}, err
	}

	action = strings.ToLower(action)
	code, ok := algodomo.ShutterAction(action)
	if !ok {
		return ShutterResult{}, fmt.Errorf("%w: %q", algodomo.ErrUnknownAction, action)
	}

	frame, err := algodomo.ShutterFrame(shutter.Address, shutter.Channel, code)
	if err != nil {
		return ShutterResult{}, err
	}

	release := s.locks.Acquire(byte(shutter.Address))
	defer release()

	_, txErr := s.gateway.TransactFrame(ctx, frame, 0)
	s.record(ctx, "shutter", shutter.Address, "shutter", shutter.ID, frame.Hex(), txErr)
	if txErr != nil {
		return ShutterResult{}, txErr
	}

	s.state.SetShutterState(shutter.ID, action)
	derived, _ := s.state.ShutterState(shutter.ID)
	return ShutterResult{Entity: shutter, Action: action, State: derived}, nil
}

// ThermostatResult is the outcome of a setpoint command.
type ThermostatResult struct {
	Entity   entity.Thermostat            `json:"entity"`
	Setpoint float64                      `json:"setpoint"`
	State    store.DerivedThermostatState `json:"state"`
}

// Thermostat resolves a thermostat and writes its setpoint.
//
// The wire carries the absolute value split into integer and tenth; the
// recorded setpoint is the value that actually went on the wire.
func (s *Service) Thermostat(ctx context.Context, id string, address *int, set float64) (ThermostatResult, error) {
	if math.IsNaN(set) || math.IsInf(set, 0) {
		return ThermostatResult{}, fmt.Errorf("%w: %v", ErrInvalidSetpoint, set)
	}

	doc := s.config.Get()
	thermostat, err := doc.ResolveThermostat(id, address)
	if err != nil {
		return ThermostatResult{}, err
	}

	integer, tenth := algodomo.SplitSetpoint(set)
	frame := algodomo.ThermostatFrame(thermostat.Address, integer, tenth)

	release := s.locks.Acquire(byte(thermostat.Address))
	defer release()

	_, txErr := s.gateway.TransactFrame(ctx, frame, 0)
	s.record(ctx, "thermostat", thermostat.Address, "thermostat", thermostat.ID, frame.Hex(), txErr)
	if txErr != nil {
		return ThermostatResult{}, txErr
	}

	if _, pollErr := s.pollLocked(ctx, thermostat.Address); pollErr != nil && s.logger != nil {
		s.logger.Debug("post-command poll failed", "address", thermostat.Address, "error", pollErr)
	}

	commanded := float64(integer) + float64(tenth)/10
	s.state.SetThermostatState(thermostat.ID, commanded)

	derived, _ := s.state.ThermostatState(thermostat.ID)
	return ThermostatResult{Entity: thermostat, Setpoint: commanded, State: derived}, nil
}

// Poll transacts an extended polling request and stores the snapshot.
func (s *Service) Poll(ctx context.Context, address int) (algodomo.BoardSnapshot, error) {
	if err := validateAddress(address); err != nil {
		return algodomo.BoardSnapshot{}, err
	}

	release := s.locks.Acquire(byte(address))
	defer release()

	snap, err := s.pollLocked(ctx, address)
	s.record(ctx, "poll", address, "board", "", algodomo.PollFrame(address).Hex(), err)
	return snap, err
}

// pollLocked polls one board. The caller must hold the address lock:
// it is invoked both by Poll and from inside command handlers that
// already hold it.
func (s *Service) pollLocked(ctx context.Context, address int) (algodomo.BoardSnapshot, error) {
	reply, err := s.gateway.TransactFrame(ctx, algodomo.PollFrame(address), 0)
	if err != nil {
		return algodomo.BoardSnapshot{}, err
	}

	snap := algodomo.DecodeSnapshot(reply, time.Now())
	// Store under the polled address even if the reply header differs.
	snap.Address = address
	s.state.SetSnapshot(snap)
	return snap, nil
}

// InputResult is the outcome of one input-configuration push.
type InputResult struct {
	Board string `json:"board"`
	Index int    `json:"index"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ApplyInputsResult collects the per-input outcomes. OK is the logical
// AND across all attempts.
type ApplyInputsResult struct {
	OK      bool          `json:"ok"`
	Results []InputResult `json:"results"`
}

// ApplyInputs pushes the input configuration of every matching board.
//
// boardID and address are optional filters. Per-input failures are
// collected, never aborted on: every enabled input gets its attempt.
func (s *Service) ApplyInputs(ctx context.Context, boardID string, address *int) (ApplyInputsResult, error) {
	doc := s.config.Get()

	boards := doc.Boards
	if boardID != "" {
		board, err := doc.ResolveBoard(boardID, nil)
		if err != nil {
			return ApplyInputsResult{}, err
		}
		boards = []entity.Board{board}
	}

	result := ApplyInputsResult{OK: true, Results: []InputResult{}}
	for _, board := range boards {
		if address != nil && board.Address != *address {
			continue
		}
		for _, input := range board.Inputs {
			if !input.Enabled {
				continue
			}

			frame := algodomo.InputConfigFrame(
				board.Address, input.Index,
				byte(input.G2), byte(input.G3), byte(input.G4),
				byte(input.TargetAddress),
			)

			release := s.locks.Acquire(byte(board.Address))
			_, txErr := s.gateway.TransactFrame(ctx, frame, 0)
			release()

			s.record(ctx, "apply-inputs", board.Address, "board", board.ID, frame.Hex(), txErr)

			entry := InputResult{Board: board.ID, Index: input.Index, OK: txErr == nil}
			if txErr != nil {
				entry.Error = txErr.Error()
				result.OK = false
			}
			result.Results = append(result.Results, entry)
		}
	}

	return result, nil
}

// ProgramResult is the acknowledgement of an address-programming
// handshake.
type ProgramResult struct {
	Ack    int    `json:"ack"`
	AckHex string `json:"ackHex"`
}

// ProgramAddress assigns a new address to a board held in programming
// mode. The transaction is raw on both sides: a single byte out, a
// single acknowledgement byte back.
func (s *Service) ProgramAddress(ctx context.Context, address int) (ProgramResult, error) {
	if err := validateAddress(address); err != nil {
		return ProgramResult{}, err
	}

	payload := []byte{byte(address)}

	release := s.locks.Acquire(byte(address))
	defer release()

	reply, err := s.gateway.TransactRaw(ctx, payload, 1, 0)
	s.record(ctx, "program-address", address, "board", "", algodomo.HexBytes(payload), err)
	if err != nil {
		return ProgramResult{}, err
	}

	return ProgramResult{
		Ack:    int(reply[0]),
		AckHex: fmt.Sprintf("0x%02x", reply[0]),
	}, nil
}

// validateAddress checks a bus address against the programmable range.
func validateAddress(address int) error {
	if address < 0 || address > 254 {
		return fmt.Errorf("%w: %d", ErrInvalidAddress, address)
	}
	return nil
}

// record appends a best-effort audit entry for one transaction.
func (s *Service) record(ctx context.Context, command string, address int, entityType, entityID, frameHex string, txErr error) {
	if s.audit == nil {
		return
	}

	entry := audit.Entry{
		Command:    command,
		Address:    address,
		EntityType: entityType,
		EntityID:   entityID,
		OK:         txErr == nil,
		FrameHex:   frameHex,
	}
	if txErr != nil {
		entry.Error = txErr.Error()
	}

	if err := s.audit.Record(ctx, entry); err != nil && s.logger != nil {
		s.logger.Warn("audit record failed", "command", command, "error", err)
	}
}
