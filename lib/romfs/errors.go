package romfs

import "errors"

var (
	// ErrInvalidIVFC indicates a malformed IVFC header.
	ErrInvalidIVFC = errors.New("romfs: invalid ivfc header")

	// ErrInvalidRomFSHeader indicates a malformed Lv3 header or an
	// out-of-range region pointer.
	ErrInvalidRomFSHeader = errors.New("romfs: invalid lv3 header")
)
