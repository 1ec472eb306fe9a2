package finishjournal

import "errors"

// ErrInvalidCIFinish indicates a cifinish.bin with a bad magic, an unknown
// version, or a truncated entry table.
var ErrInvalidCIFinish = errors.New("finishjournal: invalid cifinish.bin")
