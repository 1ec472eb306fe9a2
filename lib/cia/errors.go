package cia

import "errors"

var (
	// ErrInvalidCIA indicates a malformed archive header.
	ErrInvalidCIA = errors.New("cia: invalid archive header")

	// ErrMissingContent indicates the content-index bitmap marks a
	// content active that has no corresponding TMD Chunk Record.
	ErrMissingContent = errors.New("cia: content active in index but missing from tmd")

	// ErrInvalidSection indicates a request for a section with no
	// registered region.
	ErrInvalidSection = errors.New("cia: invalid section")
)
