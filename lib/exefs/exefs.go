// Package exefs parses the fixed-header ExeFS archive embedded in an NCCH,
// exposing its entries as file-like byte ranges and optionally
// decompressing a LZSS-compressed ".code" entry.
//
// https://www.3dbrew.org/wiki/ExeFS
package exefs

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	HeaderSize  = 0x200
	entrySize   = 0x10
	entryCount  = 10
	hashSize    = 0x20
	codeDecompressedName = ".code-decompressed"
)

// Entry describes one file within an ExeFS. A synthetic entry (the
// decompressed `.code`) has Offset == -1 and its bytes served from Data
// instead of the container.
type Entry struct {
	Name   string
	Offset int64
	Size   int64
	Hash   [32]byte
	Data   []byte // only set for synthetic entries
}

// ExeFS is a parsed ExeFS directory.
type ExeFS struct {
	Entries []Entry
}

// Parse reads the 0x200-byte ExeFS header out of header's first HeaderSize
// bytes. header need only contain the header itself; file contents are addressed by
// Entry.Offset relative to the start of the ExeFS.
func Parse(header []byte) (*ExeFS, error) {
	if len(header) < HeaderSize {
		return nil, fmt.Errorf("exefs: header shorter than 0x200: %w", ErrInvalid)
	}

	e := &ExeFS{}
	for i := 0; i < entryCount; i++ {
		entryOff := i * entrySize
		nameBytes := header[entryOff : entryOff+8]
		if allZero(nameBytes) {
			continue
		}

		offset := binary.LittleEndian.Uint32(header[entryOff+8 : entryOff+12])
		size := binary.LittleEndian.Uint32(header[entryOff+12 : entryOff+16])

		if offset%HeaderSize != 0 {
			return nil, fmt.Errorf("exefs: entry %q offset 0x%X not a multiple of 0x200: %w", trimName(nameBytes), offset, ErrBadOffset)
		}

		name, err := decodeASCIIName(nameBytes)
		if err != nil {
			return nil, err
		}

		hashOff := HeaderSize - hashSize*(i+1)
		var hash [32]byte
		copy(hash[:], header[hashOff:hashOff+hashSize])

		e.Entries = append(e.Entries, Entry{
			Name:   name,
			Offset: int64(offset),
			Size:   int64(size),
			Hash:   hash,
		})
	}
	return e, nil
}

// Find returns the entry matching a normalized name (leading '/' stripped,
// trailing ".bin" stripped per spec §4.4), or ok=false.
func (e *ExeFS) Find(name string) (Entry, bool) {
	norm := normalizeName(name)
	for _, ent := range e.Entries {
		if ent.Name == norm {
			return ent, true
		}
	}
	return Entry{}, false
}

func normalizeName(p string) string {
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, ".bin")
	return p
}

func decodeASCIIName(b []byte) (string, error) {
	for _, c := range b {
		if c != 0 && (c < 0x20 || c > 0x7E) {
			return "", fmt.Errorf("exefs: entry name is not ASCII: %w", ErrName)
		}
	}
	return trimName(b), nil
}

func trimName(b []byte) string {
	end := len(b)
	for i, c := range b {
		if c == 0 {
			end = i
			break
		}
	}
	return string(b[:end])
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
