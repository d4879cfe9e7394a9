package plan

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/jnoliv/mkusb-part/constants"
)

// Remaining is the size sentinel meaning "consume all device capacity not
// claimed by other entries". Written as a literal 0 in plan text.
const Remaining = uint64(0)

var sizeExpr = regexp.MustCompile(`^([0-9]+)(B|KiB|MiB|GiB|TiB|PiB)$`)

var unitBytes = map[string]uint64{
	"B":   1,
	"KiB": constants.KiB,
	"MiB": constants.MiB,
	"GiB": constants.GiB,
	"TiB": constants.TiB,
	"PiB": constants.PiB,
}

// ParseSize converts a plan size token into a byte count. Accepted forms
// are the literal "0" (the REMAINING sentinel) and a non-negative integer
// immediately followed by an IEC unit, e.g. "300MiB" or "4GiB".
func ParseSize(s string) (uint64, error) {
	if s == "0" {
		return Remaining, nil
	}
	m := sizeExpr.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("bad size %q: want 0 or <integer><IEC unit>", s)
	}
	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad size %q: %w", s, err)
	}
	unit := unitBytes[m[2]]
	if n != 0 && unit > ^uint64(0)/n {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	size := n * unit
	if size == 0 {
		return 0, fmt.Errorf("bad size %q: zero sizes must be written as the literal 0", s)
	}
	return size, nil
}

// FormatSize renders a byte count in the largest IEC unit that divides it
// exactly, falling back to plain bytes, so ParseSize round-trips it.
func FormatSize(size uint64) string {
	if size == Remaining {
		return "0"
	}
	for _, u := range []struct {
		name  string
		bytes uint64
	}{
		{"PiB", constants.PiB},
		{"TiB", constants.TiB},
		{"GiB", constants.GiB},
		{"MiB", constants.MiB},
		{"KiB", constants.KiB},
	} {
		if size%u.bytes == 0 {
			return fmt.Sprintf("%d%s", size/u.bytes, u.name)
		}
	}
	return fmt.Sprintf("%dB", size)
}
