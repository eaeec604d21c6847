package hypixel

// Rank is a network rank with its chat colors (hex, "#RRGGBB").
type Rank struct {
	DbKey        string
	Name         string
	Color        string
	PlusColor    string
	BracketColor string
}

var (
	RankDefault = Rank{DbKey: "NORMAL", Name: "", Color: "#555555"}

	ranks = []Rank{
		RankDefault,
		{DbKey: "VIP", Name: "VIP", Color: "#55FF55"},
		{DbKey: "VIP_PLUS", Name: "VIP+", Color: "#55FF55", PlusColor: "#55FFFF"},
		{DbKey: "MVP", Name: "MVP", Color: "#55FFFF"},
		{DbKey: "MVP_PLUS", Name: "MVP+", Color: "#55FFFF", PlusColor: "#AA0000"},
		{DbKey: "SUPERSTAR", Name: "MVP++", Color: "#FFAA00", PlusColor: "#AA0000"},
		{DbKey: "YOUTUBER", Name: "YOUTUBE", Color: "#FFFFFF", BracketColor: "#AA0000"},
		{DbKey: "PIG+++", Name: "PIG+++", Color: "#FF55FF", PlusColor: "#55FFFF"},
		{DbKey: "BUILD TEAM", Name: "BUILD TEAM", Color: "#00AAAA"},
		{DbKey: "HELPER", Name: "HELPER", Color: "#5555FF"},
		{DbKey: "MODERATOR", Name: "MOD", Color: "#00AA00"},
		{DbKey: "ADMIN", Name: "ADMIN", Color: "#AA0000"},
		{DbKey: "SLOTH", Name: "SLOTH", Color: "#AA0000"},
		{DbKey: "OWNER", Name: "OWNER", Color: "#AA0000"},
	}
)

func rankByKey(k string) (Rank, bool) {
	for _, r := range ranks {
		if r.DbKey == k {
			return r, true
		}
	}
	return Rank{}, false
}

// ResolveRank picks the first meaningful rank field: staff rank, then the
// monthly package, then the new and legacy package ranks.
func ResolveRank(rank, monthly, newPackage, pkg string) Rank {
	candidates := []struct{ v, skip string }{
		{rank, "NORMAL"},
		{monthly, "NONE"},
		{newPackage, "NONE"},
		{pkg, "NONE"},
	}
	for _, c := range candidates {
		if c.v == "" || c.v == c.skip {
			continue
		}
		if r, ok := rankByKey(c.v); ok {
			return r
		}
	}
	return RankDefault
}
