package stats

import (
	"fmt"
	"strconv"
	"strings"
)

type RGB struct{ R, G, B uint8 }

var (
	Green = RGB{0, 255, 0}
	Red   = RGB{255, 0, 0}
)

func (c RGB) Hex() string { return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B) }

// ParseRGB accepts "#rrggbb", "rrggbb" or "r,g,b".
func ParseRGB(s string) (RGB, error) {
	s = strings.TrimSpace(s)
	if parts := strings.Split(s, ","); len(parts) == 3 {
		var out [3]uint8
		for i, p := range parts {
			n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
			if err != nil {
				return RGB{}, fmt.Errorf("invalid color component %q", p)
			}
			out[i] = uint8(n)
		}
		return RGB{out[0], out[1], out[2]}, nil
	}
	h := strings.TrimPrefix(s, "#")
	if len(h) != 6 {
		return RGB{}, fmt.Errorf("invalid color %q", s)
	}
	n, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q", s)
	}
	return RGB{uint8(n >> 16), uint8(n >> 8), uint8(n)}, nil
}

// Delta is the change of one module between two snapshots.
type Delta struct {
	Text  string
	Color *RGB // nil when unchanged or not numeric
}

// Compare computes cur - prev for m, rounded to two places. Keys containing
// "loss" count a decrease as good. Text values return the current raw text.
func Compare(m Module, prev, cur Snapshot) Delta {
	if !m.Numeric(cur) {
		return Delta{Text: m.Display(cur)}
	}
	d := m.Value(cur).Sub(m.Value(prev)).Round(2)
	if d.IsZero() {
		return Delta{Text: "0"}
	}
	good := d.IsPositive()
	if strings.Contains(strings.ToLower(m.Key), "loss") {
		good = !good
	}
	c := Red
	if good {
		c = Green
	}
	return Delta{Text: FormatNumber(d), Color: &c}
}

// Changed reports whether key differs between two snapshots. Numeric values
// compare by value, others by their rendered text.
func Changed(key string, prev, cur Snapshot) bool {
	a, aok := prev.Raw(key)
	b, bok := cur.Raw(key)
	if aok != bok {
		return true
	}
	da, okA := toDecimal(a)
	db, okB := toDecimal(b)
	if okA && okB {
		return !da.Equal(db)
	}
	return formatRaw(a) != formatRaw(b)
}
