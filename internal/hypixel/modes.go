package hypixel

import (
	"strconv"
	"strings"
)

// Mode is a Hypixel game type.
type Mode struct {
	ID        int
	TypeName  string
	DbKey     string // key under player.stats
	CleanName string
	XPKey     string // per-mode experience field, if any
	// WatchKey is compared by autostats to detect a finished game.
	// Empty means "first active module".
	WatchKey string
}

func (m Mode) Name() string {
	if m.CleanName != "" {
		return m.CleanName
	}
	return m.DbKey
}

func (m Mode) IsZero() bool { return m.DbKey == "" }

var (
	Bedwars = Mode{ID: 58, TypeName: "BEDWARS", DbKey: "Bedwars", CleanName: "Bed Wars", XPKey: "Experience", WatchKey: "games_played_bedwars"}
	SkyWars = Mode{ID: 51, TypeName: "SKYWARS", DbKey: "SkyWars", CleanName: "SkyWars", XPKey: "skywars_experience", WatchKey: "games_played_skywars"}
)

var modes = []Mode{
	{ID: 14, TypeName: "ARCADE", DbKey: "Arcade"},
	{ID: 17, TypeName: "ARENA", DbKey: "Arena"},
	{ID: 23, TypeName: "BATTLEGROUND", DbKey: "Battleground", CleanName: "Warlords"},
	Bedwars,
	{ID: 60, TypeName: "BUILD_BATTLE", DbKey: "BuildBattle", CleanName: "Build Battle"},
	{ID: 61, TypeName: "DUELS", DbKey: "Duels"},
	{ID: 25, TypeName: "GINGERBREAD", DbKey: "GingerBread", CleanName: "Turbo Kart Racers"},
	{ID: 5, TypeName: "SURVIVAL_GAMES", DbKey: "HungerGames", CleanName: "Blitz Survival Games"},
	{ID: 21, TypeName: "MCGO", DbKey: "MCGO", CleanName: "Cops and Crims"},
	{ID: 59, TypeName: "MURDER_MYSTERY", DbKey: "MurderMystery", CleanName: "Murder Mystery"},
	{ID: 4, TypeName: "PAINTBALL", DbKey: "Paintball"},
	{ID: 2, TypeName: "QUAKECRAFT", DbKey: "Quake"},
	SkyWars,
	{ID: 55, TypeName: "SKYCLASH", DbKey: "SkyClash"},
	{ID: 54, TypeName: "SPEED_UHC", DbKey: "SpeedUHC", CleanName: "Speed UHC"},
	{ID: 24, TypeName: "SUPER_SMASH", DbKey: "SuperSmash", CleanName: "Smash Heroes"},
	{ID: 6, TypeName: "TNTGAMES", DbKey: "TNTGames", CleanName: "TNT Games"},
	{ID: 52, TypeName: "TRUECOMBAT", DbKey: "TrueCombat", CleanName: "Crazy Walls"},
	{ID: 20, TypeName: "UHC", DbKey: "UHC", CleanName: "UHC Champions"},
	{ID: 7, TypeName: "VAMPIREZ", DbKey: "VampireZ"},
	{ID: 3, TypeName: "WALLS", DbKey: "Walls"},
	{ID: 13, TypeName: "WALLS3", DbKey: "Walls3", CleanName: "Mega Walls"},
}

// Modes returns every known mode in display order.
func Modes() []Mode { return append([]Mode(nil), modes...) }

// LookupMode matches type name, db key, clean name or numeric id,
// ignoring case.
func LookupMode(s string) (Mode, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Mode{}, false
	}
	id, idErr := strconv.Atoi(s)
	for _, m := range modes {
		if strings.EqualFold(s, m.TypeName) || strings.EqualFold(s, m.DbKey) || strings.EqualFold(s, m.Name()) {
			return m, true
		}
		if idErr == nil && id == m.ID {
			return m, true
		}
	}
	return Mode{}, false
}
