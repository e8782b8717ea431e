package encore

import (
	"goflare.io/encore/internal/clients"
	"goflare.io/encore/internal/search"
)

var (
	ErrEmptyQuery      = search.ErrEmptyQuery
	ErrNoPlatforms     = search.ErrNoPlatforms
	ErrUnavailable     = search.ErrUnavailable
	ErrUnknownPlatform = clients.ErrUnknownPlatform
	ErrCircuitOpen     = clients.ErrCircuitOpen
	ErrAuthFailed      = clients.ErrAuthFailed
)
