package stats

import "errors"

var (
	ErrSyntax          = errors.New("stats: formula syntax error")
	ErrUnknownField    = errors.New("stats: unknown field")
	ErrDuplicateModule = errors.New("stats: duplicate module")
	ErrUnknownModule   = errors.New("stats: unknown module")
	ErrBadOrder        = errors.New("stats: order must list every module exactly once")
)
