package autostats

import (
	"fmt"
	"strings"

	"github.com/benno1237/bennos-cogs/internal/hypixel"
	"github.com/benno1237/bennos-cogs/internal/render"
	"github.com/benno1237/bennos-cogs/internal/stats"
)

// DefaultHeader is the card accent when neither guild nor user set one.
var DefaultHeader = stats.RGB{R: 255}

// BuildCard lays out one player's card. A nil prev renders without deltas.
func BuildCard(mode hypixel.Mode, mods []stats.Module, e Entity, prev stats.Snapshot, header stats.RGB) render.Card {
	c := render.Card{
		Title:      title(e),
		TitleColor: hexColor(e.Rank.Color),
		Subtitle:   mode.Name(),
		Header:     header,
		Level:      e.Level,
		ShowLevel:  e.Level.Level > 0 || e.Level.Progress > 0,
		Lines:      make([]render.Line, 0, len(mods)),
	}
	for _, m := range mods {
		ln := render.Line{Name: m.Name, Value: m.Display(e.Snapshot)}
		if prev != nil {
			ln.Delta = stats.Compare(m, prev, e.Snapshot)
		}
		c.Lines = append(c.Lines, ln)
	}
	return c
}

func title(e Entity) string {
	name := e.Name
	if name == "" {
		name = e.UUID
	}
	if e.Rank.Name == "" {
		return name
	}
	return fmt.Sprintf("[%s] %s", e.Rank.Name, name)
}

// FileName is the attachment name for e's card.
func FileName(mode hypixel.Mode, e Entity) string {
	name := e.Name
	if name == "" {
		name = e.UUID
	}
	return strings.ToLower(mode.DbKey) + "_" + name + ".png"
}

// hexColor parses "#RRGGBB"; anything else is white.
func hexColor(s string) stats.RGB {
	c, err := stats.ParseRGB(s)
	if err != nil || strings.Contains(s, ",") {
		return stats.RGB{R: 255, G: 255, B: 255}
	}
	return c
}
