package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// SpecKind is either a cron expression or a fixed interval.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a normalized schedule. Accepted forms are cron expressions
// ("0 */6 * * *", "@daily", "@every 6h") and bare durations ("6h", "90m").
// A bare duration is spread on startup so jobs added together do not all
// hit the Hypixel API at once.
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration
}

func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return ParsedSpec{}, fmt.Errorf("schedule required")
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return ParsedSpec{Kind: SpecCron, Cron: s}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid schedule %q (use cron like '0 */6 * * *' or a duration like '6h')", raw)
	}
	if d < time.Second {
		return ParsedSpec{}, fmt.Errorf("schedule %q: interval must be at least 1s", raw)
	}
	return ParsedSpec{Kind: SpecInterval, Every: d}, nil
}
