package hypixel

import "errors"

var (
	// ErrRemoteUnavailable covers transport failures, non-200 answers and
	// malformed bodies.
	ErrRemoteUnavailable = errors.New("hypixel: remote unavailable")
	ErrInvalidCredential = errors.New("hypixel: invalid api key")
	ErrUnknownName       = errors.New("mojang: unknown player name")
)

const invalidKeyCause = "Invalid API key"
