package kb

import "errors"

// Error taxonomy shared by the registry and the simulation state.
var (
	// ErrUnknownNode indicates a referenced node is not in the registry.
	ErrUnknownNode = errors.New("unknown node")
	// ErrUnknownSegment indicates a referenced segment is not in the registry.
	ErrUnknownSegment = errors.New("unknown segment")
	// ErrDuplicateKey indicates a node or segment name is already taken.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrInvalidArgument indicates malformed or out-of-range input.
	ErrInvalidArgument = errors.New("invalid argument")
)
