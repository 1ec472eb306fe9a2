package exefs

import "errors"

var (
	// ErrInvalid indicates a header too short to parse.
	ErrInvalid = errors.New("exefs: invalid header")

	// ErrBadOffset indicates an entry offset that is not a multiple of
	// 0x200 (spec §4.4).
	ErrBadOffset = errors.New("exefs: entry offset not aligned to 0x200")

	// ErrName indicates an entry name containing non-ASCII bytes.
	ErrName = errors.New("exefs: entry name is not valid ASCII")

	// ErrCodeDecompression indicates a malformed `.code` LZSS footer or
	// stream.
	ErrCodeDecompression = errors.New("exefs: code decompression failed")
)
