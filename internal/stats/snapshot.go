package stats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Snapshot is the stats object of one game mode as returned by the API.
// Numbers are kept as json.Number so large counters stay exact.
type Snapshot map[string]any

// DecodeSnapshot decodes a JSON object; null or empty input yields an empty snapshot.
func DecodeSnapshot(raw []byte) (Snapshot, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Snapshot{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s == nil {
		s = Snapshot{}
	}
	return s, nil
}

func (s Snapshot) Raw(key string) (any, bool) {
	v, ok := s[key]
	return v, ok
}

// Number returns the field as a decimal. Numeric strings count as numbers.
func (s Snapshot) Number(key string) (decimal.Decimal, bool) {
	v, ok := s[key]
	if !ok {
		return decimal.Zero, false
	}
	return toDecimal(v)
}

// Int returns the field truncated to an int64, or 0.
func (s Snapshot) Int(key string) int64 {
	d, _ := s.Number(key)
	return d.IntPart()
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(x), true
	case float32:
		return decimal.NewFromFloat32(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case decimal.Decimal:
		return x, true
	case string:
		d, err := decimal.NewFromString(x)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

// FormatNumber prints whole values as integers and trims trailing zeros otherwise.
func FormatNumber(d decimal.Decimal) string {
	if d.Equal(d.Truncate(0)) {
		return d.Truncate(0).String()
	}
	return d.String()
}

func formatRaw(v any) string {
	switch x := v.(type) {
	case nil:
		return "0"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	}
	if d, ok := toDecimal(v); ok {
		return FormatNumber(d)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Level is a mode or network level with progress toward the next one.
type Level struct {
	Level    int
	Progress float64 // 0..1
	Cost     int     // xp needed for the next level, 0 when unknown
}
