package tmd

import "errors"

var (
	// ErrInvalidSignatureType indicates a signature type outside the six
	// fixed (size, padding) shapes.
	ErrInvalidSignatureType = errors.New("tmd: invalid signature type")

	// ErrInvalidTMD indicates a TMD too short for its declared fields.
	ErrInvalidTMD = errors.New("tmd: invalid title metadata")

	// ErrInvalidInfoRecord indicates an Info Record hash mismatch, an
	// out-of-range chunk span, or a chunk record double-covered by two
	// Info Records.
	ErrInvalidInfoRecord = errors.New("tmd: invalid info record")
)
