// Package finishjournal reads and writes cifinish.bin, the journal of
// titles a custom install has written to an SD card but not yet imported
// into the console's title database. A homebrew finalizer running on the
// console itself consumes this file to install a ticket (and seed, if
// needed) for each listed title.
//
// Three on-disk versions exist. Readers accept all three; writers always
// emit the current version (3).
package finishjournal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const magic = "CIFINISH"

const currentVersion = 3

const (
	entrySizeV1 = 0x30
	entrySizeV2 = 0x20
	entrySizeV3 = 0x20
)

// titleMagic marks the start of each entry in every version.
var titleMagic = [6]byte{'T', 'I', 'T', 'L', 'E', 0}

// Entry is one title's journal record: its Title ID and, if the title uses
// NCCH seed crypto, the 16-byte seed needed to re-derive its KeyY.
type Entry struct {
	TitleID uint64
	Seed    *[16]byte
}

// Load reads a cifinish.bin of any supported version into a map keyed by
// Title ID. A missing file is not an error: it returns an empty map so
// callers can unconditionally load-modify-save to upgrade an old or absent
// journal.
func Load(path string) (map[uint64]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[uint64]Entry{}, nil
		}
		return nil, fmt.Errorf("finishjournal: reading %s: %w", path, err)
	}

	if len(data) < 0x10 || string(data[0:8]) != magic {
		return nil, fmt.Errorf("finishjournal: %s: %w", path, ErrInvalidCIFinish)
	}
	version := binary.LittleEndian.Uint32(data[0x8:0xC])
	count := binary.LittleEndian.Uint32(data[0xC:0x10])

	var entrySize int
	switch version {
	case 1:
		entrySize = entrySizeV1
	case 2:
		entrySize = entrySizeV2
	case 3:
		entrySize = entrySizeV3
	default:
		return nil, fmt.Errorf("finishjournal: %s: unknown version %d: %w", path, version, ErrInvalidCIFinish)
	}

	body := data[0x10:]
	want := int(count) * entrySize
	if len(body) < want {
		return nil, fmt.Errorf("finishjournal: %s: truncated entry table: %w", path, ErrInvalidCIFinish)
	}

	out := make(map[uint64]Entry, count)
	for i := 0; i < int(count); i++ {
		raw := body[i*entrySize : (i+1)*entrySize]

		var titleID uint64
		var hasSeed bool
		var seed [16]byte
		var tag []byte

		switch version {
		case 1:
			tag = raw[0xA:0x10]
			titleID = binary.LittleEndian.Uint64(raw[0x0:0x8])
			hasSeed = raw[0x9] != 0
			copy(seed[:], raw[0x20:0x30])
		case 2:
			tag = raw[0x0:0x6]
			titleID = binary.LittleEndian.Uint64(raw[0x6:0xE])
			hasSeed = raw[0xE] != 0
			copy(seed[:], raw[0x10:0x20])
		case 3:
			tag = raw[0x0:0x6]
			titleID = binary.LittleEndian.Uint64(raw[0x8:0x10])
			hasSeed = raw[0x6] != 0
			copy(seed[:], raw[0x10:0x20])
		}

		if string(tag) != string(titleMagic[:]) {
			continue
		}

		e := Entry{TitleID: titleID}
		if hasSeed {
			s := seed
			e.Seed = &s
		}
		out[titleID] = e
	}

	return out, nil
}

// Save writes entries as a current-version (3) cifinish.bin, sorted by
// Title ID, replacing path atomically: the file is written to a sibling
// temp file and renamed into place so a crash mid-write never leaves a
// truncated journal.
func Save(path string, entries map[uint64]Entry) error {
	ids := make([]uint64, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	buf := make([]byte, 0, 0x10+len(ids)*entrySizeV3)
	buf = append(buf, magic...)

	var versionBuf, countBuf [4]byte
	binary.LittleEndian.PutUint32(versionBuf[:], currentVersion)
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(ids)))
	buf = append(buf, versionBuf[:]...)
	buf = append(buf, countBuf[:]...)

	for _, id := range ids {
		e := entries[id]
		entry := make([]byte, entrySizeV3)
		copy(entry[0x0:0x6], titleMagic[:])
		if e.Seed != nil {
			entry[0x6] = 1
		}
		binary.LittleEndian.PutUint64(entry[0x8:0x10], id)
		if e.Seed != nil {
			copy(entry[0x10:0x20], e.Seed[:])
		}
		buf = append(buf, entry...)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".cifinish-*.tmp")
	if err != nil {
		return fmt.Errorf("finishjournal: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("finishjournal: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finishjournal: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finishjournal: replacing %s: %w", path, err)
	}
	return nil
}
