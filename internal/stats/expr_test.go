package stats_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/benno1237/bennos-cogs/internal/stats"
)

func snap(kv ...any) stats.Snapshot {
	s := stats.Snapshot{}
	for i := 0; i+1 < len(kv); i += 2 {
		s[kv[i].(string)] = kv[i+1]
	}
	return s
}

func TestFormulaEvaluation(t *testing.T) {
	convey.Convey("Given compiled formulas", t, func() {
		s := snap(
			"kills_bedwars", json.Number("10"),
			"deaths_bedwars", json.Number("3"),
			"wins_bedwars", json.Number("7"),
			"losses_bedwars", json.Number("2"),
			"final_deaths_bedwars", json.Number("0"),
			"a", 1.0,
		)

		convey.Convey("When dividing and rounding", func() {
			e, err := stats.Parse("round(kills_bedwars / deaths_bedwars, 2)")
			convey.So(err, convey.ShouldBeNil)
			convey.So(e.Eval(s).String(), convey.ShouldEqual, "3.33")
		})

		convey.Convey("When using the legacy subscript form", func() {
			e, err := stats.Parse("round((gamemode_stats['wins_bedwars'] / gamemode_stats['losses_bedwars']), 2)")
			convey.So(err, convey.ShouldBeNil)
			convey.So(e.Eval(s).String(), convey.ShouldEqual, "3.5")
			convey.So(e.Fields(), convey.ShouldResemble, []string{"wins_bedwars", "losses_bedwars"})
		})

		convey.Convey("When dividing by zero or reading a missing field", func() {
			e, _ := stats.Parse("final_kills_bedwars / final_deaths_bedwars")
			convey.So(e.Eval(s).IsZero(), convey.ShouldBeTrue)
			e, _ = stats.Parse("missing + 4")
			convey.So(e.Eval(s).String(), convey.ShouldEqual, "4")
		})

		convey.Convey("When mixing precedence, unary minus and functions", func() {
			e, err := stats.Parse("-a + 2 * 3")
			convey.So(err, convey.ShouldBeNil)
			convey.So(e.Eval(s).String(), convey.ShouldEqual, "5")

			e, _ = stats.Parse("max(kills_bedwars, wins_bedwars, 12) - min(a, 0.5) + abs(-2)")
			convey.So(e.Eval(s).String(), convey.ShouldEqual, "13.5")
		})
	})
}

func TestFormulaRejection(t *testing.T) {
	convey.Convey("Given malformed formulas", t, func() {
		for _, src := range []string{"1 +", "foo(1)", "kills[1]", "round(1, 2, 3)", "'open", "round(1, a)", "(1", "2 $ 3"} {
			_, err := stats.Parse(src)
			convey.So(errors.Is(err, stats.ErrSyntax), convey.ShouldBeTrue)
		}
	})

	convey.Convey("Given a catalog", t, func() {
		cat := stats.NewCatalog()

		convey.Convey("Known fields compile", func() {
			_, err := stats.Compile("round(wins_bedwars / losses_bedwars, 2)", cat.Known("Bedwars"))
			convey.So(err, convey.ShouldBeNil)
		})

		convey.Convey("Unknown fields are rejected at definition time", func() {
			_, err := stats.Compile("wins_bedwars / typo_field", cat.Known("Bedwars"))
			convey.So(errors.Is(err, stats.ErrUnknownField), convey.ShouldBeTrue)
		})

		convey.Convey("Fetched keys replace the catalog but keep defaults", func() {
			cat.Replace(map[string][]string{"Duels": {"wins", "losses"}})
			convey.So(cat.Has("duels", "wins"), convey.ShouldBeTrue)
			convey.So(cat.Has("Bedwars", "wins_bedwars"), convey.ShouldBeTrue)
			convey.So(cat.Updated().IsZero(), convey.ShouldBeFalse)
		})
	})
}
