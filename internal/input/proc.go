package input

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
)

const procDevices = "/proc/bus/input/devices"

const (
	evKey = 0x01
	evRep = 0x14
)

var nameRe = regexp.MustCompile(`Name="([^"]*)"`)

// parseProcDevices parses the /proc/bus/input/devices format. A device counts
// as a keyboard when it has the kbd handler and supports both EV_KEY and
// EV_REP; this skips power buttons and lid switches.
func parseProcDevices(r io.Reader) ([]Device, error) {
	var (
		devices  []Device
		current  Device
		hasKbd   bool
		evBits   uint64
		inDevice bool
	)

	flush := func() {
		if inDevice && current.Path != "" {
			current.Keyboard = hasKbd && evBits&(1<<evKey) != 0 && evBits&(1<<evRep) != 0
			devices = append(devices, current)
		}
		current = Device{}
		hasKbd = false
		evBits = 0
		inDevice = false
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		inDevice = true

		switch {
		case strings.HasPrefix(line, "N:"):
			if m := nameRe.FindStringSubmatch(line); len(m) > 1 {
				current.Name = m[1]
			}
		case strings.HasPrefix(line, "P: Phys="):
			current.Phys = strings.TrimPrefix(line, "P: Phys=")
		case strings.HasPrefix(line, "H: Handlers="):
			for _, h := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				switch {
				case h == "kbd":
					hasKbd = true
				case strings.HasPrefix(h, "event"):
					current.Path = "/dev/input/" + h
				}
			}
		case strings.HasPrefix(line, "B: EV="):
			if v, err := strconv.ParseUint(strings.TrimPrefix(line, "B: EV="), 16, 64); err == nil {
				evBits = v
			}
		}
	}
	flush()
	return devices, scanner.Err()
}

// keyboards filters devices down to keyboards.
func keyboards(devices []Device) []Device {
	var out []Device
	for _, d := range devices {
		if d.Keyboard {
			out = append(out, d)
		}
	}
	return out
}
