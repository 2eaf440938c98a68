package vecindex

import "errors"

var (
	// ErrUninitialized is returned by Search and Save before any successful Create or Load.
	ErrUninitialized = errors.New("vecindex: index not initialized")
	// ErrDimensionMismatch is returned when a row or query width differs from the index dimension.
	ErrDimensionMismatch  = errors.New("vecindex: dimension mismatch")
	ErrUnknownMetric      = errors.New("vecindex: unknown metric")
	ErrUnknownCompression = errors.New("vecindex: unknown compression")
	// ErrIndexNotFound is returned by Load when the path does not exist.
	ErrIndexNotFound = errors.New("vecindex: index file not found")
	// ErrCorruptIndex is returned by Load for structurally invalid files.
	ErrCorruptIndex = errors.New("vecindex: corrupt index file")
	// ErrIO wraps write failures from Save.
	ErrIO = errors.New("vecindex: i/o failure")
)
