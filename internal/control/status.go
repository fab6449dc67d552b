package control

import (
	"context"
	"sort"
	"strconv"

	"github.com/nerrad567/domo-bridge/internal/bridges/algodomo"
)

// LightStatus is the aggregated view of one light.
type LightStatus struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Room       string `json:"room"`
	Address    int    `json:"address"`
	Relay      int    `json:"relay"`
	IsOn       *bool  `json:"isOn"`
	LastAction string `json:"lastAction,omitempty"`
	UpdatedAt  int64  `json:"updatedAt,omitempty"`
}

// ShutterStatus is the aggregated view of one shutter.
type ShutterStatus struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Room       string `json:"room"`
	Address    int    `json:"address"`
	Channel    int    `json:"channel"`
	LastAction string `json:"lastAction"`
	UpdatedAt  int64  `json:"updatedAt,omitempty"`
}

// ThermostatStatus is the aggregated view of one thermostat.
type ThermostatStatus struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Room          string   `json:"room"`
	Address       int      `json:"address"`
	Temperature   *float64 `json:"temperature"`
	Setpoint      float64  `json:"setpoint"`
	BoardSetpoint *int     `json:"boardSetpoint"`
	UpdatedAt     int64    `json:"updatedAt,omitempty"`
}

// InputStatus is the aggregated view of one opto input. Active is nil
// while the owning board has never been polled.
type InputStatus struct {
	Board   string `json:"board"`
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Room    string `json:"room"`
	Enabled bool   `json:"enabled"`
	Active  *bool  `json:"active"`
}

// Room groups the entities sharing a room name.
type Room struct {
	Name        string             `json:"name"`
	Lights      []LightStatus      `json:"lights"`
	Shutters    []ShutterStatus    `json:"shutters"`
	Thermostats []ThermostatStatus `json:"thermostats"`
	Inputs      []InputStatus      `json:"inputs"`
}

// StatusResult is the full aggregation returned by /api/status.
type StatusResult struct {
	UpdatedAt     int64             `json:"updatedAt"`
	RefreshErrors map[string]string `json:"refreshErrors"`
	Rooms         []Room            `json:"rooms"`
}

// Status aggregates the derived state onto the configured entities.
//
// With refresh set, every address mentioned by a board or entity is
// polled first, sequentially; per-address failures land in
// RefreshErrors and never abort the aggregation.
func (s *Service) Status(ctx context.Context, refresh bool) StatusResult {
	doc := s.config.Get()

	refreshErrors := make(map[string]string)
	if refresh {
		for _, address := range doc.Addresses() {
			release := s.locks.Acquire(byte(address))
			_, err := s.pollLocked(ctx, address)
			release()
			if err != nil {
				refreshErrors[strconv.Itoa(address)] = err.Error()
			}
		}
	}

	view := s.state.View()
	rooms := make(map[string]*Room)

	roomFor := func(name string) *Room {
		r, ok := rooms[name]
		if !ok {
			r = &Room{
				Name:        name,
				Lights:      []LightStatus{},
				Shutters:    []ShutterStatus{},
				Thermostats: []ThermostatStatus{},
				Inputs:      []InputStatus{},
			}
			rooms[name] = r
		}
		return r
	}

	for _, light := range doc.Lights {
		derived := view.Lights[light.ID]
		status := LightStatus{
			ID:         light.ID,
			Name:       light.Name,
			Room:       light.Room,
			Address:    light.Address,
			Relay:      light.Relay,
			IsOn:       derived.IsOn,
			LastAction: derived.LastAction,
			UpdatedAt:  derived.UpdatedAt,
		}

		if snap, ok := view.Boards[strconv.Itoa(light.Address)]; ok {
			isOn := snap.RelayOn(light.Relay)
			status.IsOn = &isOn
			// Persist only actual changes; an unchanged belief must not
			// dirty the state document on every status request.
			if derived.IsOn == nil || *derived.IsOn != isOn {
				s.state.SetLightState(light.ID, &isOn, derived.LastAction)
			}
		}

		roomFor(light.Room).Lights = append(roomFor(light.Room).Lights, status)
	}

	for _, shutter := range doc.Shutters {
		derived, ok := view.Shutters[shutter.ID]
		lastAction := "unknown"
		if ok && derived.LastAction != "" {
			lastAction = derived.LastAction
		}
		roomFor(shutter.Room).Shutters = append(roomFor(shutter.Room).Shutters, ShutterStatus{
			ID:         shutter.ID,
			Name:       shutter.Name,
			Room:       shutter.Room,
			Address:    shutter.Address,
			Channel:    shutter.Channel,
			LastAction: lastAction,
			UpdatedAt:  derived.UpdatedAt,
		})
	}

	for _, thermostat := range doc.Thermostats {
		status := ThermostatStatus{
			ID:       thermostat.ID,
			Name:     thermostat.Name,
			Room:     thermostat.Room,
			Address:  thermostat.Address,
			Setpoint: thermostat.Setpoint,
		}
		if derived, ok := view.Thermostats[thermostat.ID]; ok {
			status.Setpoint = derived.Setpoint
			status.UpdatedAt = derived.UpdatedAt
		}
		if snap, ok := view.Boards[strconv.Itoa(thermostat.Address)]; ok {
			temperature := snap.Temperature
			boardSetpoint := snap.Setpoint
			status.Temperature = &temperature
			status.BoardSetpoint = &boardSetpoint
		}
		roomFor(thermostat.Room).Thermostats = append(roomFor(thermostat.Room).Thermostats, status)
	}

	for _, board := range doc.Boards {
		snap, hasSnap := view.Boards[strconv.Itoa(board.Address)]
		for _, input := range board.Inputs {
			status := InputStatus{
				Board:   board.ID,
				Index:   input.Index,
				Name:    input.Name,
				Room:    input.Room,
				Enabled: input.Enabled,
			}
			if hasSnap {
				active := algodomo.IsInputActive(snap.InputMask, input.Index)
				status.Active = &active
			}
			roomFor(input.Room).Inputs = append(roomFor(input.Room).Inputs, status)
		}
	}

	names := make([]string, 0, len(rooms))
	for name := range rooms {
		names = append(names, name)
	}
	// Locale-agnostic, case-sensitive ordering.
	sort.Strings(names)

	result := StatusResult{
		UpdatedAt:     s.state.View().UpdatedAt,
		RefreshErrors: refreshErrors,
		Rooms:         make([]Room, 0, len(names)),
	}
	for _, name := range names {
		result.Rooms = append(result.Rooms, *rooms[name])
	}
	return result
}
