package mesh

import "errors"

// Sentinel errors returned by New and Session's public methods, wrapped
// with %w at call sites so errors.Is works end to end. No method returns
// ErrCapacityExceeded: reaching MaxPlayers is reported through the
// MaxCapacityReached event.
var (
	ErrDisposed          = errors.New("mesh: session disposed")
	ErrUnknownSerializer = errors.New("mesh: unknown serializer")
	ErrCapacityExceeded  = errors.New("mesh: capacity exceeded")
)
