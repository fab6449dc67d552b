package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// flexInt is an integer that unmarshals from a JSON number, a decimal
// string, or a hexadecimal string prefixed "0x". Unparsable values
// leave ok false rather than failing the whole document.
type flexInt struct {
	value int
	ok    bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	f.ok = false
	if string(data) == "null" {
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		if !math.IsNaN(n) && !math.IsInf(n, 0) {
			f.value = int(n)
			f.ok = true
		}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		// decimal, or hex when prefixed 0x; a leading zero stays decimal
		base, digits := 10, s
		if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
			base, digits = 16, s[2:]
		}
		if v, err := strconv.ParseInt(digits, base, 64); err == nil {
			f.value = int(v)
			f.ok = true
			return nil
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			f.value = int(v)
			f.ok = true
		}
	}
	return nil
}

// flexFloat is the real-number counterpart of flexInt.
type flexFloat struct {
	value float64
	ok    bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	f.ok = false
	if string(data) == "null" {
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		if !math.IsNaN(n) && !math.IsInf(n, 0) {
			f.value = n
			f.ok = true
		}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			f.value = v
			f.ok = true
		}
	}
	return nil
}

// Raw document shapes: tolerant versions of the public types, used only
// during load. Unknown keys are dropped by encoding/json.
type rawDocument struct {
	Gateway     rawGateway      `json:"gateway"`
	APIToken    string          `json:"apiToken"`
	Boards      []rawBoard      `json:"boards"`
	Lights      []rawEntity     `json:"lights"`
	Shutters    []rawEntity     `json:"shutters"`
	Thermostats []rawThermostat `json:"thermostats"`
}

type rawGateway struct {
	Host      string  `json:"host"`
	Port      flexInt `json:"port"`
	TimeoutMs flexInt `json:"timeoutMs"`
}

type rawBoard struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Address flexInt    `json:"address"`
	Inputs  []rawInput `json:"inputs"`
}

type rawInput struct {
	Index         flexInt `json:"index"`
	Name          string  `json:"name"`
	Room          string  `json:"room"`
	Enabled       *bool   `json:"enabled"`
	G2            flexInt `json:"g2"`
	G3            flexInt `json:"g3"`
	G4            flexInt `json:"g4"`
	TargetAddress flexInt `json:"targetAddress"`
}

// rawEntity covers lights and shutters; Relay and Channel are aliases
// for the sub-index on their respective lists.
type rawEntity struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Room    string  `json:"room"`
	Address flexInt `json:"address"`
	Relay   flexInt `json:"relay"`
	Channel flexInt `json:"channel"`
}

type rawThermostat struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Room     string    `json:"room"`
	Address  flexInt   `json:"address"`
	Setpoint flexFloat `json:"setpoint"`
}

// Bus address bounds. 255 is the broadcast/programming value and never
// survives normalisation.
const (
	minAddress = 0
	maxAddress = 254
)

// ParseDocument decodes and normalises an entity configuration.
//
// Only malformed JSON is an error; every field-level problem is
// repaired by normalisation (clamping, defaults, slug rewriting).
func ParseDocument(data []byte) (*Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return normalise(&raw), nil
}

// normalise produces a clean Document from a raw one. Applying it to
// an already-normalised document is a no-op: every rule is idempotent.
func normalise(raw *rawDocument) *Document {
	doc := &Document{
		Gateway: GatewaySettings{
			Host:      fallback(strings.TrimSpace(raw.Gateway.Host), DefaultGatewayHost),
			Port:      clampDefault(raw.Gateway.Port, 1, 65535, DefaultGatewayPort),
			TimeoutMs: clampDefault(raw.Gateway.TimeoutMs, 100, 20000, DefaultTimeoutMs),
		},
		APIToken:    strings.TrimSpace(raw.APIToken),
		Boards:      make([]Board, 0, len(raw.Boards)),
		Lights:      make([]Light, 0, len(raw.Lights)),
		Shutters:    make([]Shutter, 0, len(raw.Shutters)),
		Thermostats: make([]Thermostat, 0, len(raw.Thermostats)),
	}

	ids := newIDSet()
	for i, b := range raw.Boards {
		board := Board{
			ID:      ids.claim(slug(b.ID), "board", i),
			Address: clampDefault(b.Address, minAddress, maxAddress, 0),
		}
		board.Name = fallback(strings.TrimSpace(b.Name), board.ID)
		board.Inputs = normaliseInputs(b.Inputs, board.Address)
		doc.Boards = append(doc.Boards, board)
	}

	ids = newIDSet()
	for i, l := range raw.Lights {
		light := Light{
			ID:      ids.claim(slug(l.ID), "light", i),
			Room:    fallback(strings.TrimSpace(l.Room), DefaultRoom),
			Address: clampDefault(l.Address, minAddress, maxAddress, 0),
			Relay:   clampDefault(l.Relay, 1, 8, 1),
		}
		light.Name = fallback(strings.TrimSpace(l.Name), light.ID)
		doc.Lights = append(doc.Lights, light)
	}

	ids = newIDSet()
	for i, s := range raw.Shutters {
		shutter := Shutter{
			ID:      ids.claim(slug(s.ID), "shutter", i),
			Room:    fallback(strings.TrimSpace(s.Room), DefaultRoom),
			Address: clampDefault(s.Address, minAddress, maxAddress, 0),
			Channel: clampDefault(s.Channel, 1, 4, 1),
		}
		shutter.Name = fallback(strings.TrimSpace(s.Name), shutter.ID)
		doc.Shutters = append(doc.Shutters, shutter)
	}

	ids = newIDSet()
	for i, th := range raw.Thermostats {
		thermostat := Thermostat{
			ID:       ids.claim(slug(th.ID), "thermostat", i),
			Room:     fallback(strings.TrimSpace(th.Room), DefaultRoom),
			Address:  clampDefault(th.Address, minAddress, maxAddress, 0),
			Setpoint: 20,
		}
		if th.Setpoint.ok {
			thermostat.Setpoint = th.Setpoint.value
		}
		thermostat.Name = fallback(strings.TrimSpace(th.Name), thermostat.ID)
		doc.Thermostats = append(doc.Thermostats, thermostat)
	}

	return doc
}

// normaliseInputs clamps, deduplicates and sorts a board's inputs.
// Duplicate indexes keep the first occurrence; the result is sorted by
// index and every input carries a concrete target address.
func normaliseInputs(raws []rawInput, boardAddress int) []Input {
	inputs := make([]Input, 0, len(raws))
	seen := make(map[int]bool)

	for i, in := range raws {
		input := Input{
			Index:         clampDefault(in.Index, 1, 8, i+1),
			Room:          fallback(strings.TrimSpace(in.Room), DefaultRoom),
			Enabled:       in.Enabled == nil || *in.Enabled,
			G2:            clampDefault(in.G2, 0, 255, 0),
			G3:            clampDefault(in.G3, 0, 255, 0),
			G4:            clampDefault(in.G4, 0, 255, 0),
			TargetAddress: clampDefault(in.TargetAddress, minAddress, maxAddress, boardAddress),
		}
		if seen[input.Index] {
			continue
		}
		seen[input.Index] = true
		input.Name = fallback(strings.TrimSpace(in.Name), fmt.Sprintf("ingresso-%d", input.Index))
		inputs = append(inputs, input)
	}

	// Sort by index; the list is at most eight entries.
	for i := 1; i < len(inputs); i++ {
		for j := i; j > 0 && inputs[j].Index < inputs[j-1].Index; j-- {
			inputs[j], inputs[j-1] = inputs[j-1], inputs[j]
		}
	}
	return inputs
}

// clampDefault resolves a flexible integer: unset or unparsable values
// take the default, out-of-range values are clamped to the bounds.
func clampDefault(f flexInt, min, max, def int) int {
	if !f.ok {
		return def
	}
	if f.value < min {
		return min
	}
	if f.value > max {
		return max
	}
	return f.value
}

// fallback returns s, or def when s is empty.
func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// slug normalises an id: lower-cased, characters outside [a-z0-9_-]
// replaced by '-', runs of '-' collapsed, leading/trailing '-' trimmed.
func slug(s string) string {
	var sb strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(sb.String(), "-")
}

// idSet assigns unique ids within one entity list. Empty slugs fall
// back to a deterministic role-<n> id; duplicates get -2, -3, …
// suffixes. Both rules are stable under re-normalisation.
type idSet struct {
	used map[string]bool
}

func newIDSet() *idSet {
	return &idSet{used: make(map[string]bool)}
}

func (s *idSet) claim(id, role string, position int) string {
	if id == "" {
		id = fmt.Sprintf("%s-%d", role, position+1)
	}
	candidate := id
	for n := 2; s.used[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d", id, n)
	}
	s.used[candidate] = true
	return candidate
}
