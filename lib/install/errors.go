package install

import "errors"

var (
	// ErrSDPathError indicates zero or multiple id1 directories were found
	// under the SD card's id0 directory.
	ErrSDPathError = errors.New("install: could not find a unique id1 directory")

	// ErrSave3DSFuseNotFound indicates the save3ds_fuse binary is missing
	// from its expected location next to the running program.
	ErrSave3DSFuseNotFound = errors.New("install: save3ds_fuse binary not found")

	// ErrSave3DSFuseFailed indicates save3ds_fuse exited with a nonzero
	// status during database extraction or import.
	ErrSave3DSFuseFailed = errors.New("install: save3ds_fuse exited with an error")

	// ErrMissingSeed indicates a title uses NCCH seed crypto but no seed
	// could be found in seeddb.bin.
	ErrMissingSeed = errors.New("install: content requires a seed not present in seeddb")
)
