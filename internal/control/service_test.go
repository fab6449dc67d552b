package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/domo-bridge/internal/bridges/algodomo"
	"github.com/nerrad567/domo-bridge/internal/entity"
	"github.com/nerrad567/domo-bridge/internal/store"
)

// busHandler maps a received request onto the bytes to answer with.
// Returning nil closes the connection without a reply.
type busHandler func(request []byte) []byte

// mockBus is a scripted TCP gateway. It records every request in order.
type mockBus struct {
	listener net.Listener
	handler  busHandler

	mu       sync.Mutex
	requests [][]byte
}

func startMockBus(t *testing.T, handler busHandler) *mockBus {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	b := &mockBus{listener: listener, handler: handler}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				buf := make([]byte, 64)
				n, err := conn.Read(buf)
				if err != nil {
					return
				}
				request := append([]byte(nil), buf[:n]...)

				b.mu.Lock()
				b.requests = append(b.requests, request)
				b.mu.Unlock()

				if reply := b.handler(request); reply != nil {
					conn.Write(reply)
				}
			}(conn)
		}
	}()
	t.Cleanup(func() { listener.Close() })
	return b
}

func (b *mockBus) addr() (string, int) {
	host, portStr, _ := net.SplitHostPort(b.listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func (b *mockBus) seen() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.requests...)
}

// pollReply answers every framed request with a polling frame carrying
// the given masks; raw single-byte requests get the ack byte.
func pollReply(outputMask, inputMask int, ack byte) busHandler {
	return func(request []byte) []byte {
		if len(request) == algodomo.FrameLen {
			return algodomo.NewFrame(int(request[1]), algodomo.CmdPoll, 0x11, outputMask, inputMask).Encode()
		}
		return []byte{ack}
	}
}

// newTestService wires a service against the mock bus with the given
// configuration document.
func newTestService(t *testing.T, bus *mockBus, configJSON string) *Service {
	t.Helper()

	dir := t.TempDir()
	host, port := bus.addr()
	doc, err := entity.ParseDocument(fmt.Appendf(nil,
		`{"gateway":{"host":"%s","port":%d,"timeoutMs":1000},%s`, host, port, configJSON))
	if err != nil {
		t.Fatalf("parse test config: %v", err)
	}

	cfg, err := store.OpenConfig(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Replace(doc); err != nil {
		t.Fatal(err)
	}

	state, err := store.OpenState(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { state.Close() })

	svc, err := New(Deps{
		Config:  cfg,
		State:   state,
		Gateway: algodomo.NewClient(cfg.GatewaySettings),
		Locks:   algodomo.NewAddressLocks(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

const lightConfig = `"lights":[{"id":"light-1","name":"Luce sala","room":"Sala","address":1,"relay":3}]}`

func TestLightOnEndToEnd(t *testing.T) {
	bus := startMockBus(t, pollReply(0x04, 0xFF, 0))
	svc := newTestService(t, bus, lightConfig)

	result, err := svc.Light(context.Background(), "light-1", nil, nil, "on")
	if err != nil {
		t.Fatalf("Light() unexpected error: %v", err)
	}

	if result.Entity.ID != "light-1" {
		t.Errorf("entity id = %q, want light-1", result.Entity.ID)
	}
	if result.State.IsOn == nil || !*result.State.IsOn {
		t.Errorf("state = %+v, want isOn true from snapshot mask", result.State)
	}

	requests := bus.seen()
	if len(requests) != 2 {
		t.Fatalf("gateway saw %d requests, want command + poll", len(requests))
	}
	// 49 01 53 41 00*9 46: relay 3 -> command 0x53, action on -> 0x41.
	wantCmd := []byte{0x49, 0x01, 0x53, 0x41, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x46}
	if string(requests[0]) != string(wantCmd) {
		t.Errorf("command frame = % X, want % X", requests[0], wantCmd)
	}
	if requests[1][2] != algodomo.CmdPoll {
		t.Errorf("second request command = 0x%02X, want poll", requests[1][2])
	}
}

func TestLightOnIsIdempotent(t *testing.T) {
	bus := startMockBus(t, pollReply(0x04, 0xFF, 0))
	svc := newTestService(t, bus, lightConfig)

	for i := 0; i < 2; i++ {
		result, err := svc.Light(context.Background(), "light-1", nil, nil, "on")
		if err != nil {
			t.Fatalf("Light() unexpected error: %v", err)
		}
		if result.State.IsOn == nil || !*result.State.IsOn {
			t.Errorf("state after on = %+v, want isOn true", result.State)
		}
	}
}

func TestLightUnknownAction(t *testing.T) {
	bus := startMockBus(t, pollReply(0, 0xFF, 0))
	svc := newTestService(t, bus, lightConfig)

	_, err := svc.Light(context.Background(), "light-1", nil, nil, "blink")
	if !errors.Is(err, algodomo.ErrUnknownAction) {
		t.Errorf("error = %v, want ErrUnknownAction", err)
	}
	if len(bus.seen()) != 0 {
		t.Error("unknown action must not reach the gateway")
	}
}

func TestLightUnknownEntity(t *testing.T) {
	bus := startMockBus(t, pollReply(0, 0xFF, 0))
	svc := newTestService(t, bus, lightConfig)

	_, err := svc.Light(context.Background(), "assente", nil, nil, "on")
	if !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestLightInferenceWithoutSnapshot(t *testing.T) {
	// The command succeeds but the follow-up poll gets no valid frame,
	// so the inference rule decides from the action alone.
	var calls atomic.Int32
	bus := startMockBus(t, func(request []byte) []byte {
		if calls.Add(1)%2 == 1 {
			return algodomo.NewFrame(1, 0x53).Encode() // command ack
		}
		return nil // poll: close without reply
	})
	svc := newTestService(t, bus, lightConfig)

	result, err := svc.Light(context.Background(), "light-1", nil, nil, "off")
	if err != nil {
		t.Fatalf("Light() unexpected error: %v", err)
	}
	if result.State.IsOn == nil || *result.State.IsOn {
		t.Errorf("state = %+v, want isOn false inferred from action", result.State)
	}

	// toggle negates the now-known previous state.
	result, err = svc.Light(context.Background(), "light-1", nil, nil, "toggle")
	if err != nil {
		t.Fatalf("Light() toggle unexpected error: %v", err)
	}
	if result.State.IsOn == nil || !*result.State.IsOn {
		t.Errorf("state after toggle = %+v, want isOn true", result.State)
	}
	if result.State.LastAction != "toggle" {
		t.Errorf("lastAction = %q, want toggle", result.State.LastAction)
	}
}

func TestShutterDown(t *testing.T) {
	bus := startMockBus(t, pollReply(0, 0xFF, 0))
	svc := newTestService(t, bus,
		`"shutters":[{"id":"shutter-1","room":"Sala","address":1,"channel":2}]}`)

	result, err := svc.Shutter(context.Background(), "shutter-1", nil, nil, "down")
	if err != nil {
		t.Fatalf("Shutter() unexpected error: %v", err)
	}
	if result.State.LastAction != "down" {
		t.Errorf("lastAction = %q, want down", result.State.LastAction)
	}

	requests := bus.seen()
	if len(requests) != 1 {
		t.Fatalf("gateway saw %d requests, want 1 (no post-poll for shutters)", len(requests))
	}
	want := []byte{0x49, 0x01, 0x5C, 0x02, 0x44, 0, 0, 0, 0, 0, 0, 0, 0, 0x46}
	if string(requests[0]) != string(want) {
		t.Errorf("frame = % X, want % X", requests[0], want)
	}
}

func TestThermostatSet(t *testing.T) {
	bus := startMockBus(t, pollReply(0, 0xFF, 0))
	svc := newTestService(t, bus,
		`"thermostats":[{"id":"thermo-1","room":"Sala","address":1,"setpoint":20}]}`)

	result, err := svc.Thermostat(context.Background(), "thermo-1", nil, 21.5)
	if err != nil {
		t.Fatalf("Thermostat() unexpected error: %v", err)
	}
	if result.Setpoint != 21.5 {
		t.Errorf("commanded setpoint = %v, want 21.5", result.Setpoint)
	}

	requests := bus.seen()
	want := []byte{0x49, 0x01, 0x5A, 0x15, 0x05, 0, 0, 0, 0, 0, 0, 0, 0, 0x46}
	if string(requests[0]) != string(want) {
		t.Errorf("frame = % X, want % X", requests[0], want)
	}
}

func TestThermostatRejectsNonFinite(t *testing.T) {
	bus := startMockBus(t, pollReply(0, 0xFF, 0))
	svc := newTestService(t, bus,
		`"thermostats":[{"id":"thermo-1","address":1}]}`)

	for _, set := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := svc.Thermostat(context.Background(), "thermo-1", nil, set); !errors.Is(err, ErrInvalidSetpoint) {
			t.Errorf("set %v: error = %v, want ErrInvalidSetpoint", set, err)
		}
	}
}

func TestPollStoresSnapshot(t *testing.T) {
	bus := startMockBus(t, pollReply(0x81, 0xF0, 0))
	svc := newTestService(t, bus, `"boards":[{"id":"quadro","address":9}]}`)

	snap, err := svc.Poll(context.Background(), 9)
	if err != nil {
		t.Fatalf("Poll() unexpected error: %v", err)
	}
	if snap.Address != 9 || snap.OutputMask != 0x81 {
		t.Errorf("snapshot = %+v", snap)
	}

	stored, ok := svc.state.Snapshot(9)
	if !ok || stored.Address != 9 {
		t.Errorf("stored snapshot = %+v, ok = %v", stored, ok)
	}
}

func TestPollRejectsOutOfRangeAddress(t *testing.T) {
	bus := startMockBus(t, pollReply(0, 0, 0))
	svc := newTestService(t, bus, `"boards":[]}`)

	for _, address := range []int{-1, 255, 300} {
		if _, err := svc.Poll(context.Background(), address); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("address %d: error = %v, want ErrInvalidAddress", address, err)
		}
	}
}

const boardsConfig = `"boards":[
	{"id":"quadro-a","address":1,"inputs":[
		{"index":2,"g2":10,"g3":11,"g4":12},
		{"index":1,"g2":1,"g3":2,"g4":3,"targetAddress":7},
		{"index":3,"enabled":false}
	]},
	{"id":"quadro-b","address":2,"inputs":[{"index":1}]}
]}`

func TestApplyInputsAllBoards(t *testing.T) {
	bus := startMockBus(t, pollReply(0, 0xFF, 0))
	svc := newTestService(t, bus, boardsConfig)

	result, err := svc.ApplyInputs(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("ApplyInputs() unexpected error: %v", err)
	}
	if !result.OK {
		t.Errorf("result.OK = false, want true: %+v", result.Results)
	}
	// Disabled input skipped: 2 inputs on quadro-a + 1 on quadro-b.
	if len(result.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(result.Results))
	}

	requests := bus.seen()
	if len(requests) != 3 {
		t.Fatalf("gateway saw %d frames, want 3", len(requests))
	}
	// Inputs go out in index order: index 1 (target 7) before index 2.
	want := []byte{0x49, 0x01, 0x55, 0x01, 0x01, 0x02, 0x03, 0x07, 0, 0, 0, 0, 0, 0x46}
	if string(requests[0]) != string(want) {
		t.Errorf("first frame = % X, want % X", requests[0], want)
	}
	// Default target address is the owning board's.
	if requests[1][7] != 0x01 {
		t.Errorf("second frame target = 0x%02X, want board address 1", requests[1][7])
	}
}

func TestApplyInputsFilters(t *testing.T) {
	bus := startMockBus(t, pollReply(0, 0xFF, 0))
	svc := newTestService(t, bus, boardsConfig)

	result, err := svc.ApplyInputs(context.Background(), "quadro-b", nil)
	if err != nil {
		t.Fatalf("ApplyInputs() unexpected error: %v", err)
	}
	if len(result.Results) != 1 || result.Results[0].Board != "quadro-b" {
		t.Errorf("filtered results = %+v", result.Results)
	}

	address := 1
	result, err = svc.ApplyInputs(context.Background(), "", &address)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range result.Results {
		if r.Board != "quadro-a" {
			t.Errorf("address filter leaked board %q", r.Board)
		}
	}

	if _, err := svc.ApplyInputs(context.Background(), "sconosciuto", nil); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("unknown board error = %v, want ErrNotFound", err)
	}
}

func TestApplyInputsCollectsFailuresWithoutAborting(t *testing.T) {
	// Every transaction fails: connection closes without a reply.
	bus := startMockBus(t, func([]byte) []byte { return nil })
	svc := newTestService(t, bus, boardsConfig)

	result, err := svc.ApplyInputs(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("ApplyInputs() unexpected error: %v", err)
	}
	if result.OK {
		t.Error("result.OK = true, want false")
	}
	if len(result.Results) != 3 {
		t.Fatalf("results = %d, want all 3 attempted", len(result.Results))
	}
	for _, r := range result.Results {
		if r.OK || r.Error == "" {
			t.Errorf("per-input result = %+v, want failure recorded", r)
		}
	}
}

func TestProgramAddress(t *testing.T) {
	bus := startMockBus(t, pollReply(0, 0, 0xA5))
	svc := newTestService(t, bus, `"boards":[]}`)

	result, err := svc.ProgramAddress(context.Background(), 5)
	if err != nil {
		t.Fatalf("ProgramAddress() unexpected error: %v", err)
	}
	if result.Ack != 0xA5 || result.AckHex != "0xa5" {
		t.Errorf("result = %+v, want ack 165 / 0xa5", result)
	}

	requests := bus.seen()
	if len(requests) != 1 || len(requests[0]) != 1 || requests[0][0] != 0x05 {
		t.Errorf("gateway saw % X, want single byte 05", requests)
	}
}

func TestConcurrentLightsDistinctAddresses(t *testing.T) {
	bus := startMockBus(t, pollReply(0xFF, 0xFF, 0))
	svc := newTestService(t, bus, `"lights":[
		{"id":"l1","address":1,"relay":1},
		{"id":"l2","address":2,"relay":1}
	]}`)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []string{"l1", "l2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := svc.Light(context.Background(), id, nil, nil, "on"); err != nil {
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Light() error: %v", err)
	}

	// Within one address the command frame precedes its poll.
	perAddress := make(map[byte][]byte)
	for _, request := range bus.seen() {
		if len(request) == algodomo.FrameLen {
			perAddress[request[1]] = append(perAddress[request[1]], request[2])
		}
	}
	for address, commands := range perAddress {
		if len(commands) != 2 || commands[0] == algodomo.CmdPoll || commands[1] != algodomo.CmdPoll {
			t.Errorf("address %d saw command order %v, want [relay, poll]", address, commands)
		}
	}
}

func TestPollTimeoutSurfaces(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				time.Sleep(2 * time.Second) // never answer
			}(conn)
		}
	}()

	host, portStr, _ := net.SplitHostPort(listener.Addr().String())

	dir := t.TempDir()
	doc, err := entity.ParseDocument(fmt.Appendf(nil,
		`{"gateway":{"host":"%s","port":%s,"timeoutMs":150},"boards":[]}`, host, portStr))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := store.OpenConfig(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Replace(doc); err != nil {
		t.Fatal(err)
	}
	state, err := store.OpenState(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { state.Close() })

	svc, err := New(Deps{
		Config:  cfg,
		State:   state,
		Gateway: algodomo.NewClient(cfg.GatewaySettings),
		Locks:   algodomo.NewAddressLocks(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Poll(context.Background(), 1); !errors.Is(err, algodomo.ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", err)
	}
}
