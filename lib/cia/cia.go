// Package cia parses the CIA (CTR Importable Archive) container: the
// archive header + content-index bitmap, certificate chain, ticket, TMD,
// per-content NCCH regions (each individually AES-CBC encrypted under the
// decrypted titlekey), and an optional Meta section.
//
// https://www.3dbrew.org/wiki/CIA
package cia

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ihaveamac/custom-install-go/internal/util"
	"github.com/ihaveamac/custom-install-go/lib/crypto"
	"github.com/ihaveamac/custom-install-go/lib/ncch"
	"github.com/ihaveamac/custom-install-go/lib/tmd"
)

const (
	headerSize = 0x20
	alignSize  = 64
)

// Section identifies one region of a CIA. Non-negative values are content
// indices (matching a TMD Chunk Record's Index); negative values are the
// fixed container sections.
type Section int

const (
	SectionArchiveHeader    Section = -4
	SectionCertificateChain Section = -3
	SectionTicket           Section = -2
	SectionTitleMetadata    Section = -1
	SectionMeta             Section = -5
)

// Region describes one section's placement within the archive. IV is nil
// for sections that are never encrypted (every section except contents).
type Region struct {
	Section Section
	Offset  int64
	Size    int64
	IV      []byte
}

// CIA is a parsed CIA container backed by a random-access reader.
type CIA struct {
	crypto          *crypto.Engine
	inner           io.ReaderAt
	start           int64
	caseInsensitive bool
	dev             bool

	TotalSize int64
	Sections  map[Section]Region

	TMD         *tmd.TMD
	ContentInfo []tmd.ChunkRecord
	Contents    map[uint16]*ncch.NCCH
}

// Open parses a CIA found at byte offset start within r: it loads the
// ticket (deriving the decrypted-titlekey keyslot), the TMD, cross-checks
// the content-index bitmap against the TMD's Chunk Records, and, if
// loadContents is true, opens every non-SRL content as an NCCH.
func Open(r io.ReaderAt, start int64, caseInsensitive, dev bool, eng *crypto.Engine, loadContents bool) (*CIA, error) {
	header := make([]byte, headerSize)
	if _, err := r.ReadAt(header, start); err != nil {
		return nil, fmt.Errorf("cia: reading header: %w", err)
	}

	archiveHeaderSize := binary.LittleEndian.Uint32(header[0x0:0x4])
	if archiveHeaderSize != 0x2020 {
		return nil, fmt.Errorf("cia: archive header size 0x%X, want 0x2020: %w", archiveHeaderSize, ErrInvalidCIA)
	}
	certChainSize := binary.LittleEndian.Uint32(header[0x8:0xC])
	ticketSize := binary.LittleEndian.Uint32(header[0xC:0x10])
	tmdSize := binary.LittleEndian.Uint32(header[0x10:0x14])
	metaSize := binary.LittleEndian.Uint32(header[0x14:0x18])
	contentSize := binary.LittleEndian.Uint64(header[0x18:0x20])

	contentIndex := make([]byte, int64(archiveHeaderSize)-headerSize)
	if _, err := r.ReadAt(contentIndex, start+headerSize); err != nil {
		return nil, fmt.Errorf("cia: reading content index: %w", err)
	}

	active := map[uint16]bool{}
	for i, b := range contentIndex {
		offset := i * 8
		for p := 0; p < 8; p++ {
			if b&(1<<uint(p)) != 0 {
				active[uint16(offset+(7-p))] = true
			}
		}
	}

	certChainOffset := util.Roundup(int64(archiveHeaderSize), alignSize)
	ticketOffset := certChainOffset + util.Roundup(int64(certChainSize), alignSize)
	tmdOffset := ticketOffset + util.Roundup(int64(ticketSize), alignSize)
	contentOffset := tmdOffset + util.Roundup(int64(tmdSize), alignSize)
	metaOffset := contentOffset + util.Roundup(int64(contentSize), alignSize)

	c := &CIA{
		crypto:          eng,
		inner:           r,
		start:           start,
		caseInsensitive: caseInsensitive,
		dev:             dev,
		TotalSize:       metaOffset + int64(metaSize),
		Sections:        map[Section]Region{},
		Contents:        map[uint16]*ncch.NCCH{},
	}

	add := func(sec Section, offset, size int64, iv []byte) {
		c.Sections[sec] = Region{Section: sec, Offset: offset, Size: size, IV: iv}
	}
	add(SectionArchiveHeader, 0, int64(archiveHeaderSize), nil)
	add(SectionCertificateChain, certChainOffset, int64(certChainSize), nil)
	add(SectionTicket, ticketOffset, int64(ticketSize), nil)
	add(SectionTitleMetadata, tmdOffset, int64(tmdSize), nil)
	if metaSize != 0 {
		add(SectionMeta, metaOffset, int64(metaSize), nil)
	}

	ticketBuf := make([]byte, ticketSize)
	if _, err := r.ReadAt(ticketBuf, start+ticketOffset); err != nil {
		return nil, fmt.Errorf("cia: reading ticket: %w", err)
	}
	if err := eng.IngestTicket(ticketBuf, dev); err != nil {
		return nil, fmt.Errorf("cia: %w", err)
	}

	tmdBuf := make([]byte, tmdSize)
	if _, err := r.ReadAt(tmdBuf, start+tmdOffset); err != nil {
		return nil, fmt.Errorf("cia: reading tmd: %w", err)
	}
	parsed, err := tmd.Load(tmdBuf, true)
	if err != nil {
		return nil, fmt.Errorf("cia: %w", err)
	}
	c.TMD = parsed

	seen := map[uint16]bool{}
	for _, rec := range parsed.ChunkRecords {
		if active[rec.Index] {
			seen[rec.Index] = true
			c.ContentInfo = append(c.ContentInfo, rec)
		}
	}
	for idx := range active {
		if !seen[idx] {
			return nil, fmt.Errorf("cia: %w", ErrMissingContent)
		}
	}

	curOffset := contentOffset
	for _, rec := range c.ContentInfo {
		var iv []byte
		if rec.Type.Encrypted {
			ivBuf := make([]byte, 16)
			binary.BigEndian.PutUint16(ivBuf[0:2], rec.Index)
			iv = ivBuf
		}
		add(Section(rec.Index), curOffset, int64(rec.Size), iv)

		if loadContents {
			isSRL := rec.Index == 0 && isSRLTitle(parsed.TitleID)
			if !isSRL {
				n, err := ncch.Open(c.OpenRawSection(Section(rec.Index)), 0, caseInsensitive, eng, true)
				if err != nil {
					return nil, fmt.Errorf("cia: opening content %d: %w", rec.Index, err)
				}
				c.Contents[rec.Index] = n
			}
		}
		curOffset += int64(rec.Size)
	}

	return c, nil
}

// isSRLTitle reports whether titleID's category nibbles mark it as a
// DSiWare/SRL title (category byte "48" within the 16-hex-digit ID).
func isSRLTitle(titleID uint64) bool {
	s := fmt.Sprintf("%016x", titleID)
	return s[3:5] == "48"
}

// GetData reads size decrypted bytes from section starting at offset, both
// relative to the section's own start, clamping size to the section bound.
func (c *CIA) GetData(section Section, offset, size int64) ([]byte, error) {
	region, ok := c.Sections[section]
	if !ok {
		return nil, fmt.Errorf("cia: unknown section %d: %w", section, ErrInvalidSection)
	}
	if offset+size > region.Size {
		size = region.Size - offset
	}
	if size <= 0 {
		return nil, nil
	}

	if region.IV == nil {
		buf := make([]byte, size)
		if _, err := c.inner.ReadAt(buf, c.start+region.Offset+offset); err != nil && err != io.EOF {
			return nil, fmt.Errorf("cia: reading section %d: %w", section, err)
		}
		return buf, nil
	}

	var iv [16]byte
	copy(iv[:], region.IV)
	ra := regionReaderAt{inner: c.inner, base: c.start + region.Offset}
	cbc, err := crypto.NewCBCReader(c.crypto, crypto.KeyslotDecTitlekey, iv, region.Size, ra)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := cbc.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("cia: decrypting section %d: %w", section, err)
	}
	return buf, nil
}

type sectionReaderAt struct {
	c       *CIA
	section Section
}

func (s sectionReaderAt) ReadAt(p []byte, off int64) (int, error) {
	data, err := s.c.GetData(s.section, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	got := copy(p, data)
	if got < len(p) {
		return got, io.EOF
	}
	return got, nil
}

// OpenRawSection returns a random-access, transparently-decrypting view of
// one CIA section.
func (c *CIA) OpenRawSection(section Section) io.ReaderAt {
	return sectionReaderAt{c: c, section: section}
}

type regionReaderAt struct {
	inner io.ReaderAt
	base  int64
}

func (r regionReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return r.inner.ReadAt(p, r.base+off)
}

