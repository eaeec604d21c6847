// Package stats models per-mode player statistics and the modules shown for
// them: direct field lookups and formulas compiled into a small AST.
package stats
