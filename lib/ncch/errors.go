package ncch

import "errors"

var (
	// ErrInvalidSection indicates a request for a Section value that is not
	// one of the defined constants.
	ErrInvalidSection = errors.New("ncch: invalid section")

	// ErrSeedRequired indicates an attempt to load sections of an
	// uses_seed NCCH before SetupSeed succeeded.
	ErrSeedRequired = errors.New("ncch: seed required but not set up")

	// ErrSeedNotUsed indicates SetupSeed was called on an NCCH that does
	// not use seed crypto.
	ErrSeedNotUsed = errors.New("ncch: seed crypto not used by this title")

	// ErrSeedMismatch indicates a seed that does not match the header's
	// seed-verify hash.
	ErrSeedMismatch = errors.New("ncch: seed does not match seed-verify hash")

	// ErrSeedNotFound indicates no entry in a seeddb.bin matched the
	// requested program ID.
	ErrSeedNotFound = errors.New("ncch: seed not found in seeddb")
)
