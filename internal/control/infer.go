package control

import "github.com/nerrad567/domo-bridge/internal/bridges/algodomo"

// inferLightState decides what the bridge believes about a light.
//
// A fresh snapshot is authoritative: the relay bit in the output mask
// wins over everything. Without one, the commanded action is the next
// best evidence: on/off set the state directly, toggle (and
// toggle_no_ack, whose effect is otherwise unobservable) negates a
// known previous state. Anything else keeps the previous belief, and
// nil means unknown.
func inferLightState(relay int, snap *algodomo.BoardSnapshot, previous *bool, action string) *bool {
	if snap != nil {
		v := snap.RelayOn(relay)
		return &v
	}

	switch action {
	case "on":
		v := true
		return &v
	case "off":
		v := false
		return &v
	case "toggle", "toggle_no_ack":
		if previous != nil {
			v := !*previous
			return &v
		}
	}
	return previous
}
