package exefs

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// makeSyntheticExeFSHeader builds a minimal ExeFS header with the given
// (name, offset, size) entries, hashes left zeroed (parsing does not
// verify them).
func makeSyntheticExeFSHeader(t *testing.T, entries []Entry) []byte {
	t.Helper()
	header := make([]byte, HeaderSize)
	for i, e := range entries {
		off := i * entrySize
		copy(header[off:off+8], e.Name)
		binary.LittleEndian.PutUint32(header[off+8:off+12], uint32(e.Offset))
		binary.LittleEndian.PutUint32(header[off+12:off+16], uint32(e.Size))
	}
	return header
}

func TestExeFSParsesEntries(t *testing.T) {
	header := makeSyntheticExeFSHeader(t, []Entry{
		{Name: "icon", Offset: 0, Size: 0x1400},
		{Name: ".code", Offset: 0x1400, Size: 0x8000},
	})

	e, err := Parse(header)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(e.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(e.Entries))
	}

	ent, ok := e.Find("icon")
	if !ok {
		t.Fatalf("expected to find icon entry")
	}
	if ent.Offset != 0 || ent.Size != 0x1400 {
		t.Fatalf("icon entry = %+v", ent)
	}
}

func TestExeFSFindNormalizesNameQuirk(t *testing.T) {
	header := makeSyntheticExeFSHeader(t, []Entry{{Name: "banner", Offset: 0x200, Size: 0x200}})
	e, err := Parse(header)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := e.Find("/banner"); !ok {
		t.Fatalf("expected leading slash to be stripped")
	}
}

func TestExeFSRejectsMisalignedOffset(t *testing.T) {
	header := makeSyntheticExeFSHeader(t, []Entry{{Name: "icon", Offset: 0x123, Size: 0x10}})
	if _, err := Parse(header); err == nil {
		t.Fatalf("expected error for misaligned offset")
	}
}

func TestDecompressCodeRejectsShortFooter(t *testing.T) {
	if _, err := decompressCode(make([]byte, 4)); err == nil {
		t.Fatalf("expected error for buffer shorter than footer")
	}
}

func TestDecompressCodeRejectsOversizedHeader(t *testing.T) {
	code := make([]byte, 16)
	// compSize larger than the buffer itself.
	binary.LittleEndian.PutUint32(code[len(code)-8:len(code)-4], 0xFFFFFF)
	binary.LittleEndian.PutUint32(code[len(code)-4:], 0)
	if _, err := decompressCode(code); err == nil {
		t.Fatalf("expected error for oversized compressed-size header")
	}
}

// TestDecompressCodeRoundTripsWithUncompressedPrefix covers a buffer whose
// comp_size is smaller than its total length, so comp_start (the floor both
// pointers walk down to) sits above zero and the leading bytes are an
// uncompressed prefix rather than part of the compressed stream.
func TestDecompressCodeRoundTripsWithUncompressedPrefix(t *testing.T) {
	code := []byte{
		0x11, 0x22, // uncompressed prefix; comp_start = len(code) - comp_size = 2
		0x00, 0x80, // back-reference token: seg_off=2, seg_len=11
		0xCC, 0xBB, 0xAA, // literal source bytes, consumed back to front
		0x10, // control byte: bits 7,6,5 literal, bit 4 back-reference
		0x0E, 0x00, 0x00, 0x08, // off_size_comp: comp_size=0x0E, header_len=8
		0x00, 0x00, 0x00, 0x00, // add_size = 0
	}
	want := []byte{
		0x11, 0x22,
		0xBB, 0xAA, 0xCC, 0xBB, 0xAA, 0xCC, 0xBB, 0xAA, 0xCC, 0xBB, 0xAA, 0xCC, 0xBB, 0xAA,
	}

	got, err := decompressCode(code)
	if err != nil {
		t.Fatalf("decompressCode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("decompressCode = %X, want %X", got, want)
	}
}
