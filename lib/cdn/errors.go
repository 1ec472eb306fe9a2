package cdn

import "errors"

var (
	// ErrContentNotFound indicates a TMD Chunk Record's content ID has no
	// matching file in the CDN directory.
	ErrContentNotFound = errors.New("cdn: content file not found")

	// ErrInvalidSection indicates a request for a section with no
	// registered content file.
	ErrInvalidSection = errors.New("cdn: invalid section")
)
