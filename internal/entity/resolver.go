package entity

import "fmt"

// Resolution helpers. Each lookup accepts an explicit id or an
// (address, sub-index) pair; a present, non-empty id always wins. The
// resolver never mutates the document.

// ResolveLight finds a light by id, or by (address, relay) when id is
// empty. relay may be nil for id lookups.
func (d *Document) ResolveLight(id string, address, relay *int) (Light, error) {
	if id != "" {
		for _, l := range d.Lights {
			if l.ID == id {
				return l, nil
			}
		}
		return Light{}, fmt.Errorf("%w: light %q", ErrNotFound, id)
	}
	if address != nil && relay != nil {
		for _, l := range d.Lights {
			if l.Address == *address && l.Relay == *relay {
				return l, nil
			}
		}
	}
	return Light{}, fmt.Errorf("%w: light", ErrNotFound)
}

// ResolveShutter finds a shutter by id, or by (address, channel).
func (d *Document) ResolveShutter(id string, address, channel *int) (Shutter, error) {
	if id != "" {
		for _, s := range d.Shutters {
			if s.ID == id {
				return s, nil
			}
		}
		return Shutter{}, fmt.Errorf("%w: shutter %q", ErrNotFound, id)
	}
	if address != nil && channel != nil {
		for _, s := range d.Shutters {
			if s.Address == *address && s.Channel == *channel {
				return s, nil
			}
		}
	}
	return Shutter{}, fmt.Errorf("%w: shutter", ErrNotFound)
}

// ResolveThermostat finds a thermostat by id, or by address alone.
func (d *Document) ResolveThermostat(id string, address *int) (Thermostat, error) {
	if id != "" {
		for _, t := range d.Thermostats {
			if t.ID == id {
				return t, nil
			}
		}
		return Thermostat{}, fmt.Errorf("%w: thermostat %q", ErrNotFound, id)
	}
	if address != nil {
		for _, t := range d.Thermostats {
			if t.Address == *address {
				return t, nil
			}
		}
	}
	return Thermostat{}, fmt.Errorf("%w: thermostat", ErrNotFound)
}

// ResolveBoard finds a board by id, or by address.
func (d *Document) ResolveBoard(id string, address *int) (Board, error) {
	if id != "" {
		for _, b := range d.Boards {
			if b.ID == id {
				return b, nil
			}
		}
		return Board{}, fmt.Errorf("%w: board %q", ErrNotFound, id)
	}
	if address != nil {
		for _, b := range d.Boards {
			if b.Address == *address {
				return b, nil
			}
		}
	}
	return Board{}, fmt.Errorf("%w: board", ErrNotFound)
}
