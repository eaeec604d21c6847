package stats

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// Module is one line of a stats card: a direct field or a formula.
type Module struct {
	Name    string
	Key     string
	Formula *Expr
	Mode    string
}

func (m Module) IsCustom() bool { return m.Formula != nil }

// Value returns the numeric value of the module. Absent or non-numeric
// direct fields yield zero.
func (m Module) Value(s Snapshot) decimal.Decimal {
	if m.Formula != nil {
		return m.Formula.Eval(s)
	}
	d, _ := s.Number(m.Key)
	return d
}

// Numeric reports whether Value is meaningful for s.
func (m Module) Numeric(s Snapshot) bool {
	if m.Formula != nil {
		return true
	}
	v, ok := s.Raw(m.Key)
	if !ok {
		return true
	}
	_, ok = toDecimal(v)
	return ok
}

// Display renders the module value; text fields are returned as is.
func (m Module) Display(s Snapshot) string {
	if m.Formula != nil {
		return FormatNumber(m.Formula.Eval(s))
	}
	v, ok := s.Raw(m.Key)
	if !ok {
		return "0"
	}
	return formatRaw(v)
}

// Record is the persisted form of a module in a guild's active list.
type Record struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// ModuleSet is the ordered active module list of one guild and mode.
// Keys and names are unique (case-insensitive).
type ModuleSet struct {
	mode string
	mods []Module
}

func NewModuleSet(mode string) *ModuleSet { return &ModuleSet{mode: mode} }

// Build assembles a set from persisted records; keys found in formulas
// become custom modules. Stored formulas are trusted and not re-checked
// against the catalog.
func Build(mode string, recs []Record, formulas map[string]string) (*ModuleSet, error) {
	s := NewModuleSet(mode)
	for _, r := range recs {
		m := Module{Name: r.Name, Key: r.Key, Mode: mode}
		if src, ok := formulas[r.Key]; ok {
			e, err := Parse(src)
			if err != nil {
				return nil, fmt.Errorf("module %s: %w", r.Key, err)
			}
			m.Formula = e
		}
		if err := s.Add(m); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *ModuleSet) Mode() string { return s.mode }

func (s *ModuleSet) Len() int { return len(s.mods) }

func (s *ModuleSet) Modules() []Module { return slices.Clone(s.mods) }

func (s *ModuleSet) First() (Module, bool) {
	if len(s.mods) == 0 {
		return Module{}, false
	}
	return s.mods[0], true
}

func (s *ModuleSet) index(keyOrName string) int {
	return slices.IndexFunc(s.mods, func(m Module) bool {
		return strings.EqualFold(m.Key, keyOrName) || strings.EqualFold(m.Name, keyOrName)
	})
}

func (s *ModuleSet) Get(keyOrName string) (Module, bool) {
	if i := s.index(keyOrName); i >= 0 {
		return s.mods[i], true
	}
	return Module{}, false
}

func (s *ModuleSet) Add(m Module) error {
	m.Key, m.Name = strings.TrimSpace(m.Key), strings.TrimSpace(m.Name)
	if m.Key == "" {
		return fmt.Errorf("%w: empty key", ErrUnknownField)
	}
	if m.Name == "" {
		m.Name = m.Key
	}
	for _, cur := range s.mods {
		if strings.EqualFold(cur.Key, m.Key) || strings.EqualFold(cur.Name, m.Name) {
			return fmt.Errorf("%w: %s", ErrDuplicateModule, m.Key)
		}
	}
	m.Mode = s.mode
	s.mods = append(s.mods, m)
	return nil
}

func (s *ModuleSet) Remove(keyOrName string) (Module, error) {
	i := s.index(keyOrName)
	if i < 0 {
		return Module{}, fmt.Errorf("%w: %s", ErrUnknownModule, keyOrName)
	}
	m := s.mods[i]
	s.mods = slices.Delete(s.mods, i, i+1)
	return m, nil
}

// Reorder applies a new order given as keys or names; it must be a permutation.
func (s *ModuleSet) Reorder(order []string) error {
	if len(order) != len(s.mods) {
		return ErrBadOrder
	}
	out := make([]Module, 0, len(order))
	used := make([]bool, len(s.mods))
	for _, k := range order {
		i := s.index(k)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownModule, k)
		}
		if used[i] {
			return ErrBadOrder
		}
		used[i] = true
		out = append(out, s.mods[i])
	}
	s.mods = out
	return nil
}

func (s *ModuleSet) Records() []Record {
	out := make([]Record, 0, len(s.mods))
	for _, m := range s.mods {
		out = append(out, Record{Key: m.Key, Name: m.Name})
	}
	return out
}

// Formulas returns key -> source for every custom module.
func (s *ModuleSet) Formulas() map[string]string {
	out := map[string]string{}
	for _, m := range s.mods {
		if m.Formula != nil {
			out[m.Key] = m.Formula.String()
		}
	}
	return out
}
