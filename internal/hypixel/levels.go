package hypixel

import (
	"math"

	"github.com/benno1237/bennos-cogs/internal/stats"
)

const (
	bwLevelsPerPrestige = 100
	bwLevelCost         = 5000
)

var bwEasyLevels = [...]int64{500, 1000, 2000, 3500}

// BedwarsLevel converts Bedwars experience to a star level.
func BedwarsLevel(xp int64) stats.Level {
	if xp < 0 {
		xp = 0
	}
	var easyXP int64
	for _, c := range bwEasyLevels {
		easyXP += c
	}
	prestigeXP := easyXP + int64(bwLevelsPerPrestige-len(bwEasyLevels))*bwLevelCost

	level := (xp / prestigeXP) * bwLevelsPerPrestige
	xp %= prestigeXP
	for _, c := range bwEasyLevels {
		if xp < c {
			break
		}
		level++
		xp -= c
	}
	level += xp / bwLevelCost
	xp %= bwLevelCost

	cost := int64(bwLevelCost)
	if next := (level + 1) % bwLevelsPerPrestige; next >= 1 && next <= int64(len(bwEasyLevels)) {
		cost = bwEasyLevels[next-1]
	}
	return stats.Level{Level: int(level), Progress: float64(xp) / float64(cost), Cost: int(cost)}
}

var swXP = [...]float64{0, 20, 70, 150, 250, 500, 1000, 2000, 3500, 5000, 10000, 15000}

// SkywarsLevel converts SkyWars experience to a level.
func SkywarsLevel(xp int64) stats.Level {
	x := float64(max(xp, 0))
	if x >= 15000 {
		lvl := (x-15000)/10000 + 12
		return stats.Level{Level: int(lvl), Progress: lvl - math.Floor(lvl), Cost: 10000}
	}
	for i := 1; i < len(swXP); i++ {
		if x < swXP[i] {
			lvl := float64(i) + (x-swXP[i-1])/(swXP[i]-swXP[i-1])
			return stats.Level{Level: int(lvl), Progress: lvl - math.Floor(lvl), Cost: int(swXP[i] - swXP[i-1])}
		}
	}
	return stats.Level{}
}

// NetworkLevel converts network experience to the network level.
func NetworkLevel(xp float64) stats.Level {
	lvl := math.Sqrt(2*math.Max(xp, 0)+30625)/50 - 2.5
	whole, frac := math.Modf(lvl)
	return stats.Level{Level: int(whole), Progress: frac}
}

// ModeLevel returns the level for modes that track experience.
func ModeLevel(m Mode, s stats.Snapshot) stats.Level {
	switch m.DbKey {
	case Bedwars.DbKey:
		return BedwarsLevel(s.Int(m.XPKey))
	case SkyWars.DbKey:
		return SkywarsLevel(s.Int(m.XPKey))
	}
	return stats.Level{}
}
