package input

import "time"

// coalescer folds per-device transitions into one logical keyboard: a key is
// down while any device holds it. Only 0->1 and 1->0 transitions pass.
type coalescer struct {
	held  map[string]map[uint16]struct{}
	count map[uint16]int
}

func newCoalescer() *coalescer {
	return &coalescer{
		held:  make(map[string]map[uint16]struct{}),
		count: make(map[uint16]int),
	}
}

func (c *coalescer) apply(ev KeyEvent) (KeyEvent, bool) {
	keys := c.held[ev.Device]
	if keys == nil {
		keys = make(map[uint16]struct{})
		c.held[ev.Device] = keys
	}

	switch ev.Action {
	case Down:
		if _, ok := keys[ev.Code]; ok {
			return KeyEvent{}, false
		}
		keys[ev.Code] = struct{}{}
		c.count[ev.Code]++
		return ev, c.count[ev.Code] == 1
	case Up:
		if _, ok := keys[ev.Code]; !ok {
			return KeyEvent{}, false
		}
		delete(keys, ev.Code)
		c.count[ev.Code]--
		if c.count[ev.Code] > 0 {
			return KeyEvent{}, false
		}
		delete(c.count, ev.Code)
		return ev, true
	}
	return KeyEvent{}, false
}

// drop forgets a device and returns the Up events for keys that were only
// held on it.
func (c *coalescer) drop(device string, at time.Time) []KeyEvent {
	keys := c.held[device]
	delete(c.held, device)

	var out []KeyEvent
	for code := range keys {
		c.count[code]--
		if c.count[code] > 0 {
			continue
		}
		delete(c.count, code)
		out = append(out, KeyEvent{Code: code, Action: Up, Time: at, Device: device})
	}
	return out
}
