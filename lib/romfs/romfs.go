// Package romfs parses the IVFC/Lv3 RomFS format embedded in an NCCH's
// RomFS section, building an in-memory directory tree of file-meta entries
// addressable by path.
//
// https://www.3dbrew.org/wiki/RomFS
package romfs

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/ihaveamac/custom-install-go/internal/util"
)

const (
	ivfcHeaderSize  = 0x5C
	ivfcMagic       = "IVFC"
	ivfcMagicNumber = 0x10000

	ivfcMasterHashSizeOffset = 0x8
	ivfcLv3BlockSizeOffset   = 0x4C

	lv3HeaderSize = 0x28

	dirMetaBaseSize  = 0x18
	fileMetaBaseSize = 0x20
)

// File is one file entry in the tree.
type File struct {
	Name   string
	Offset uint64
	Size   uint64
}

// Dir is one directory entry in the tree, keyed by name (or lowercased
// name, if the reader was opened case-insensitively).
type Dir struct {
	Name  string
	Dirs  map[string]*Dir
	Files map[string]*File
}

// RomFS is a parsed RomFS, rooted at Root.
type RomFS struct {
	Root           *Dir
	fileDataOffset int64
	caseInsensitive bool
}

// Parse reads a RomFS image. If the image begins with an "IVFC" magic, the
// Lv3 offset is computed from the IVFC header (spec §4.5); otherwise data
// is assumed to start directly at the Lv3 header. caseInsensitive
// lowercases every directory/file name used as a tree key.
func Parse(data []byte, caseInsensitive bool) (*RomFS, error) {
	lv3Off := int64(0)
	if len(data) >= 4 && string(data[0:4]) == ivfcMagic {
		if len(data) < ivfcHeaderSize {
			return nil, fmt.Errorf("romfs: truncated IVFC header: %w", ErrInvalidIVFC)
		}
		magicNum := binary.LittleEndian.Uint32(data[4:8])
		if magicNum != ivfcMagicNumber {
			return nil, fmt.Errorf("romfs: bad IVFC magic number: %w", ErrInvalidIVFC)
		}
		masterHashSize := binary.LittleEndian.Uint32(data[ivfcMasterHashSizeOffset : ivfcMasterHashSizeOffset+4])
		lv3BlockSize := binary.LittleEndian.Uint32(data[ivfcLv3BlockSizeOffset : ivfcLv3BlockSizeOffset+4])
		blockAlign := int64(1) << lv3BlockSize
		lv3Off = util.Roundup(0x60+int64(masterHashSize), blockAlign)
	}

	if lv3Off+lv3HeaderSize > int64(len(data)) {
		return nil, fmt.Errorf("romfs: lv3 header out of range: %w", ErrInvalidRomFSHeader)
	}
	lv3 := data[lv3Off:]

	lv3HeaderLen := binary.LittleEndian.Uint32(lv3[0:4])
	if lv3HeaderLen != lv3HeaderSize {
		return nil, fmt.Errorf("romfs: lv3 header size 0x%X, want 0x%X: %w", lv3HeaderLen, lv3HeaderSize, ErrInvalidRomFSHeader)
	}

	dirMetaOff := binary.LittleEndian.Uint32(lv3[0xC:0x10])
	dirMetaSize := binary.LittleEndian.Uint32(lv3[0x10:0x14])
	fileHashOff := binary.LittleEndian.Uint32(lv3[0x14:0x18])
	fileMetaOff := binary.LittleEndian.Uint32(lv3[0x1C:0x20])
	fileMetaSize := binary.LittleEndian.Uint32(lv3[0x20:0x24])
	fileDataOff := binary.LittleEndian.Uint32(lv3[0x24:0x28])

	if !(dirMetaOff < fileHashOff && fileHashOff <= fileMetaOff && fileMetaOff < fileDataOff) {
		return nil, fmt.Errorf("romfs: lv3 region ordering invalid: %w", ErrInvalidRomFSHeader)
	}
	if int64(fileMetaOff+fileMetaSize) > int64(len(lv3)) {
		return nil, fmt.Errorf("romfs: file meta table out of range: %w", ErrInvalidRomFSHeader)
	}
	if int64(dirMetaOff+dirMetaSize) > int64(len(lv3)) {
		return nil, fmt.Errorf("romfs: dir meta table out of range: %w", ErrInvalidRomFSHeader)
	}

	r := &RomFS{
		fileDataOffset:  lv3Off + int64(fileDataOff),
		caseInsensitive: caseInsensitive,
	}

	dirMeta := lv3[dirMetaOff : dirMetaOff+dirMetaSize]
	fileMeta := lv3[fileMetaOff : fileMetaOff+fileMetaSize]

	root, err := r.buildDir(dirMeta, fileMeta, 0)
	if err != nil {
		return nil, err
	}
	r.Root = root
	return r, nil
}

// buildDir recursively walks the dir-meta and file-meta tables starting at
// a directory entry's byte offset within dirMeta (spec §4.5).
func (r *RomFS) buildDir(dirMeta, fileMeta []byte, off uint32) (*Dir, error) {
	if int64(off)+dirMetaBaseSize > int64(len(dirMeta)) {
		return nil, fmt.Errorf("romfs: dir meta offset out of range: %w", ErrInvalidRomFSHeader)
	}
	rec := dirMeta[off:]
	firstChildDir := binary.LittleEndian.Uint32(rec[0x8:0xC])
	firstFile := binary.LittleEndian.Uint32(rec[0xC:0x10])
	nameLen := binary.LittleEndian.Uint32(rec[0x14:0x18])
	name := r.decodeName(rec[0x18 : 0x18+nameLen])

	d := &Dir{Name: name, Dirs: map[string]*Dir{}, Files: map[string]*File{}}

	const noEntry = 0xFFFFFFFF

	for childOff := firstChildDir; childOff != noEntry; {
		if int64(childOff)+dirMetaBaseSize > int64(len(dirMeta)) {
			return nil, fmt.Errorf("romfs: dir meta child offset out of range: %w", ErrInvalidRomFSHeader)
		}
		childRec := dirMeta[childOff:]
		child, err := r.buildDir(dirMeta, fileMeta, childOff)
		if err != nil {
			return nil, err
		}
		d.Dirs[r.key(child.Name)] = child
		childOff = binary.LittleEndian.Uint32(childRec[0x4:0x8])
	}

	for fileOff := firstFile; fileOff != noEntry; {
		if int64(fileOff)+fileMetaBaseSize > int64(len(fileMeta)) {
			return nil, fmt.Errorf("romfs: file meta offset out of range: %w", ErrInvalidRomFSHeader)
		}
		fileRec := fileMeta[fileOff:]
		dataOffset := binary.LittleEndian.Uint64(fileRec[0x8:0x10])
		size := binary.LittleEndian.Uint64(fileRec[0x10:0x18])
		nameLen := binary.LittleEndian.Uint32(fileRec[0x1C:0x20])
		name := r.decodeName(fileRec[0x20 : 0x20+nameLen])

		d.Files[r.key(name)] = &File{Name: name, Offset: dataOffset, Size: size}
		fileOff = binary.LittleEndian.Uint32(fileRec[0x4:0x8])
	}

	return d, nil
}

func (r *RomFS) key(name string) string {
	if r.caseInsensitive {
		return strings.ToLower(name)
	}
	return name
}

func (r *RomFS) decodeName(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2 : i*2+2])
	}
	return string(utf16.Decode(units))
}

// Lookup resolves a '/'-separated path starting at Root.
func (r *RomFS) Lookup(path string) (*File, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	d := r.Root
	for i, p := range parts {
		if i == len(parts)-1 {
			f, ok := d.Files[r.key(p)]
			return f, ok
		}
		next, ok := d.Dirs[r.key(p)]
		if !ok {
			return nil, false
		}
		d = next
	}
	return nil, false
}

// DataOffset returns the absolute byte offset of a file's data region
// relative to the start of the full RomFS image passed to Parse.
func (r *RomFS) DataOffset(f *File) int64 {
	return r.fileDataOffset + int64(f.Offset)
}
