package stats

// Built-in module lists, keyed by mode db key.

var defaultRecords = map[string][]Record{
	"Bedwars": {
		{Key: "games_played_bedwars", Name: "Games played"},
		{Key: "kills_bedwars", Name: "Kills"},
		{Key: "normal_kd", Name: "KD"},
		{Key: "beds_broken_bedwars", Name: "Beds broken"},
		{Key: "wins_bedwars", Name: "Wins"},
		{Key: "winstreak", Name: "Winstreak"},
		{Key: "final_kills_bedwars", Name: "Final kills"},
		{Key: "final_kd", Name: "Final KD"},
	},
}

var defaultFormulas = map[string]map[string]string{
	"Bedwars": {
		"wl_rate":   "round(wins_bedwars / losses_bedwars, 2)",
		"normal_kd": "round(kills_bedwars / deaths_bedwars, 2)",
		"final_kd":  "round(final_kills_bedwars / final_deaths_bedwars, 2)",
	},
}

// DefaultRecords returns the default active modules for a mode (may be empty).
func DefaultRecords(mode string) []Record {
	return append([]Record(nil), defaultRecords[mode]...)
}

// DefaultFormulas returns a copy of the default custom formulas for a mode.
func DefaultFormulas(mode string) map[string]string {
	out := map[string]string{}
	for k, v := range defaultFormulas[mode] {
		out[k] = v
	}
	return out
}

// defaultCatalog lists the raw field keys the defaults depend on.
func defaultCatalog() map[string][]string {
	out := map[string][]string{}
	for mode, recs := range defaultRecords {
		formulas := defaultFormulas[mode]
		for _, r := range recs {
			if _, custom := formulas[r.Key]; !custom {
				out[mode] = append(out[mode], r.Key)
			}
		}
	}
	for mode, fs := range defaultFormulas {
		for _, src := range fs {
			if e, err := Parse(src); err == nil {
				out[mode] = append(out[mode], e.Fields()...)
			}
		}
	}
	out["Bedwars"] = append(out["Bedwars"], "Experience")
	out["SkyWars"] = append(out["SkyWars"], "skywars_experience", "games_played_skywars")
	return out
}
