package control

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/domo-bridge/internal/bridges/algodomo"
)

const statusConfig = `"boards":[
	{"id":"quadro","address":1,"inputs":[
		{"index":1,"name":"presenza","room":"Sala"},
		{"index":2,"name":"finestra","room":"Cucina"}
	]}
],
"lights":[
	{"id":"luce-sala","name":"Luce sala","room":"Sala","address":1,"relay":3},
	{"id":"luce-cucina","name":"Luce cucina","room":"Cucina","address":2,"relay":1}
],
"shutters":[{"id":"tapparella","room":"Sala","address":1,"channel":2}],
"thermostats":[{"id":"termo","room":"Sala","address":1,"setpoint":20}]}`

func TestStatusProjection(t *testing.T) {
	bus := startMockBus(t, pollReply(0, 0xFF, 0))
	svc := newTestService(t, bus, statusConfig)

	// Seed a snapshot for address 1: relay 3 on, input 1 active
	// (clear bit), temperature -3.7, board setpoint 21.
	frame := algodomo.NewFrame(1, algodomo.CmdPoll, 0x11, 0x04, 0xFE, 0x00, 0x03, 0x07, 0x2D, 0x00, 21)
	snap := algodomo.DecodeSnapshot(frame, time.Now())
	svc.state.SetSnapshot(snap)
	svc.state.SetShutterState("tapparella", "down")
	svc.state.SetThermostatState("termo", 21.5)

	result := svc.Status(context.Background(), false)

	if len(result.RefreshErrors) != 0 {
		t.Errorf("refreshErrors = %v, want empty without refresh", result.RefreshErrors)
	}

	// Rooms sorted case-sensitively: Cucina before Sala.
	if len(result.Rooms) != 2 || result.Rooms[0].Name != "Cucina" || result.Rooms[1].Name != "Sala" {
		names := make([]string, 0, len(result.Rooms))
		for _, r := range result.Rooms {
			names = append(names, r.Name)
		}
		t.Fatalf("rooms = %v, want [Cucina Sala]", names)
	}

	sala := result.Rooms[1]
	cucina := result.Rooms[0]

	// Light with snapshot: isOn from the output mask.
	if len(sala.Lights) != 1 {
		t.Fatalf("sala lights = %d, want 1", len(sala.Lights))
	}
	if sala.Lights[0].IsOn == nil || !*sala.Lights[0].IsOn {
		t.Errorf("luce-sala isOn = %v, want true from mask 0x04 relay 3", sala.Lights[0].IsOn)
	}

	// Light without snapshot and without derived state: unknown.
	if len(cucina.Lights) != 1 {
		t.Fatalf("cucina lights = %d, want 1", len(cucina.Lights))
	}
	if cucina.Lights[0].IsOn != nil {
		t.Errorf("luce-cucina isOn = %v, want nil (unknown)", *cucina.Lights[0].IsOn)
	}

	// Shutter reads back the recorded action.
	if len(sala.Shutters) != 1 || sala.Shutters[0].LastAction != "down" {
		t.Errorf("shutter status = %+v, want lastAction down", sala.Shutters)
	}

	// Thermostat: temperature from snapshot, setpoint last commanded,
	// boardSetpoint from the wire.
	if len(sala.Thermostats) != 1 {
		t.Fatalf("sala thermostats = %d, want 1", len(sala.Thermostats))
	}
	th := sala.Thermostats[0]
	if th.Temperature == nil || *th.Temperature != -3.7 {
		t.Errorf("temperature = %v, want -3.7", th.Temperature)
	}
	if th.Setpoint != 21.5 {
		t.Errorf("setpoint = %v, want last commanded 21.5", th.Setpoint)
	}
	if th.BoardSetpoint == nil || *th.BoardSetpoint != 21 {
		t.Errorf("boardSetpoint = %v, want 21", th.BoardSetpoint)
	}

	// Inputs: mask 0xFE, bit 0 clear -> input 1 active, input 2 not.
	if len(sala.Inputs) != 1 || sala.Inputs[0].Active == nil || !*sala.Inputs[0].Active {
		t.Errorf("sala inputs = %+v, want presenza active", sala.Inputs)
	}
	if len(cucina.Inputs) != 1 || cucina.Inputs[0].Active == nil || *cucina.Inputs[0].Active {
		t.Errorf("cucina inputs = %+v, want finestra inactive", cucina.Inputs)
	}
}

func TestStatusShutterUnknownWithoutHistory(t *testing.T) {
	bus := startMockBus(t, pollReply(0, 0xFF, 0))
	svc := newTestService(t, bus, `"shutters":[{"id":"s1","room":"Sala","address":1,"channel":1}]}`)

	result := svc.Status(context.Background(), false)
	if len(result.Rooms) != 1 || len(result.Rooms[0].Shutters) != 1 {
		t.Fatalf("rooms = %+v", result.Rooms)
	}
	if got := result.Rooms[0].Shutters[0].LastAction; got != "unknown" {
		t.Errorf("lastAction = %q, want unknown", got)
	}
}

func TestStatusThermostatFallsBackToConfigured(t *testing.T) {
	bus := startMockBus(t, pollReply(0, 0xFF, 0))
	svc := newTestService(t, bus, `"thermostats":[{"id":"t1","room":"Sala","address":1,"setpoint":19.5}]}`)

	result := svc.Status(context.Background(), false)
	th := result.Rooms[0].Thermostats[0]
	if th.Setpoint != 19.5 {
		t.Errorf("setpoint = %v, want configured 19.5", th.Setpoint)
	}
	if th.Temperature != nil {
		t.Error("temperature should be nil without a snapshot")
	}
}

func TestStatusRefreshPollsEveryAddress(t *testing.T) {
	// Mask 0x05: relay 1 (luce-cucina) and relay 3 (luce-sala) both on.
	bus := startMockBus(t, pollReply(0x05, 0xFF, 0))
	svc := newTestService(t, bus, statusConfig)

	result := svc.Status(context.Background(), true)
	if len(result.RefreshErrors) != 0 {
		t.Errorf("refreshErrors = %v, want none", result.RefreshErrors)
	}

	polled := make(map[byte]bool)
	for _, request := range bus.seen() {
		if len(request) == algodomo.FrameLen && request[2] == algodomo.CmdPoll {
			polled[request[1]] = true
		}
	}
	// Addresses mentioned: 1 (board, entities) and 2 (luce-cucina).
	if !polled[1] || !polled[2] {
		t.Errorf("polled addresses = %v, want 1 and 2", polled)
	}

	// The refreshed snapshots answer for both lights.
	for _, room := range result.Rooms {
		for _, light := range room.Lights {
			if light.IsOn == nil || !*light.IsOn {
				t.Errorf("light %s isOn = %v, want true after refresh", light.ID, light.IsOn)
			}
		}
	}
}

func TestStatusRefreshCollectsErrorsWithoutAborting(t *testing.T) {
	bus := startMockBus(t, func([]byte) []byte { return nil })
	svc := newTestService(t, bus, statusConfig)

	result := svc.Status(context.Background(), true)

	// Both addresses failed, both recorded, aggregation still ran.
	if len(result.RefreshErrors) != 2 {
		t.Errorf("refreshErrors = %v, want entries for addresses 1 and 2", result.RefreshErrors)
	}
	if _, ok := result.RefreshErrors["1"]; !ok {
		t.Error("missing refresh error for address 1")
	}
	if len(result.Rooms) == 0 {
		t.Error("aggregation aborted on refresh errors")
	}
}

func TestInferLightState(t *testing.T) {
	on, off := true, false
	snapOn := algodomo.BoardSnapshot{OutputMask: 0x04}

	tests := []struct {
		name     string
		snap     *algodomo.BoardSnapshot
		previous *bool
		action   string
		want     *bool
	}{
		{"snapshot wins over action", &snapOn, &off, "off", &on},
		{"action on", nil, nil, "on", &on},
		{"action off", nil, &on, "off", &off},
		{"toggle known previous", nil, &on, "toggle", &off},
		{"toggle_no_ack known previous", nil, &off, "toggle_no_ack", &on},
		{"toggle unknown previous", nil, nil, "toggle", nil},
		{"pulse keeps previous", nil, &on, "pulse", &on},
		{"no evidence", nil, nil, "pulse", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := inferLightState(3, tt.snap, tt.previous, tt.action)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("got %v, want unknown", *got)
			case tt.want != nil && got == nil:
				t.Errorf("got unknown, want %v", *tt.want)
			case tt.want != nil && got != nil && *got != *tt.want:
				t.Errorf("got %v, want %v", *got, *tt.want)
			}
		})
	}
}
