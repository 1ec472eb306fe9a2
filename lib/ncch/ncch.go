// Package ncch parses the NCCH (CTR Cart/Content Header) container used for
// every 3DS executable content: CXI (CTR Executable Image, has an ExeFS and
// usually a RomFS) and CFA (CTR File Archive, data-only). It exposes each
// section as an independently decryptable byte range and assembles a
// simulated fully-decrypted view of the whole container on demand.
//
// https://www.3dbrew.org/wiki/NCCH
package ncch

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ihaveamac/custom-install-go/internal/util"
	"github.com/ihaveamac/custom-install-go/lib/crypto"
	"github.com/ihaveamac/custom-install-go/lib/exefs"
	"github.com/ihaveamac/custom-install-go/lib/romfs"
)

// MediaUnit is the granularity (in bytes) that NCCH region offsets and sizes
// are stored in.
const MediaUnit = 0x200

const headerSize = 0x200

// extraCryptoFlags maps the crypto_method header flag to the keyslot used
// for RomFS and the "extra crypto" portion of ExeFS.
var extraCryptoFlags = map[byte]crypto.Keyslot{
	0x00: crypto.KeyslotNCCH,
	0x01: crypto.KeyslotNCCH70,
	0x0A: crypto.KeyslotNCCH93,
	0x0B: crypto.KeyslotNCCH96,
}

// FixedSystemKey is the normal key used in place of the scrambled NCCH key
// when a title's fixed_crypto_key flag is set and bit 36 of its program ID
// is set (certain system archives).
var FixedSystemKey = [16]byte{
	0x52, 0x7C, 0xE6, 0x30, 0xA9, 0xCA, 0x30, 0x5F,
	0x36, 0x96, 0xF3, 0xCD, 0xE9, 0x54, 0x19, 0x4B,
}

// Section identifies one region of an NCCH container. Values match the
// on-disk IV derivation (iv = partition_id<<64 | section<<56), so they must
// not be renumbered.
type Section byte

const (
	SectionExtendedHeader Section = 1
	SectionExeFS          Section = 2
	SectionRomFS          Section = 3
	SectionHeader         Section = 4
	SectionLogo           Section = 5
	SectionPlain          Section = 6

	// SectionFullDecrypted and SectionRaw are synthetic: they do not
	// correspond to a single on-disk range with its own IV.
	SectionFullDecrypted Section = 7
	SectionRaw           Section = 8
)

var noEncryption = map[Section]bool{
	SectionHeader: true,
	SectionLogo:   true,
	SectionPlain:  true,
	SectionRaw:    true,
}

// exefsNormalCryptoFiles always use the Original NCCH keyslot, even when a
// later crypto_method is in effect for the rest of ExeFS and RomFS.
var exefsNormalCryptoFiles = map[string]bool{"icon": true, "banner": true}

// Region describes one section's placement and the IV its cipher uses.
type Region struct {
	Section Section
	Offset  int64
	Size    int64
	End     int64
	IV      [16]byte
}

// Flags is the decoded 0x188-0x18F flag block.
type Flags struct {
	CryptoMethod   byte
	Executable     bool
	FixedCryptoKey bool
	NoRomFS        bool
	NoCrypto       bool
	UsesSeed       bool
}

// NCCH is a parsed NCCH container backed by a random-access reader.
type NCCH struct {
	crypto          *crypto.Engine
	inner           io.ReaderAt
	start           int64
	caseInsensitive bool

	KeyY        [16]byte
	Version     uint16
	ContentSize int64
	PartitionID uint64
	ProgramID   uint64
	ProductCode string
	SeedVerify  [4]byte
	Flags       Flags

	sections    map[Section]Region
	allSections map[Section]Region

	seed       []byte
	seedSetUp  bool
	seededKeyY [16]byte

	exefsKeyslotNormalRange [][2]int64

	ExeFS *exefs.ExeFS
	RomFS *romfs.RomFS
}

// Open parses the NCCH header found at byte offset start within r, wires the
// NCCH and extra keyslots into eng, and, if loadSections is true, parses the
// ExeFS header and RomFS tree immediately. When the header reports
// uses_seed, callers must call SetupSeed before LoadSections (or before
// passing loadSections=true) can succeed.
func Open(r io.ReaderAt, start int64, caseInsensitive bool, eng *crypto.Engine, loadSections bool) (*NCCH, error) {
	header := make([]byte, headerSize)
	if _, err := r.ReadAt(header, start); err != nil {
		return nil, fmt.Errorf("ncch: reading header: %w", err)
	}

	n := &NCCH{crypto: eng, inner: r, start: start, caseInsensitive: caseInsensitive}
	copy(n.KeyY[:], header[0x0:0x10])
	n.Version = binary.LittleEndian.Uint16(header[0x112:0x114])
	n.ContentSize = int64(binary.LittleEndian.Uint32(header[0x104:0x108])) * MediaUnit
	n.PartitionID = binary.LittleEndian.Uint64(header[0x108:0x110])
	copy(n.SeedVerify[:], header[0x114:0x118])
	n.ProductCode = util.ExtractASCII(header[0x150:0x160])
	n.ProgramID = binary.LittleEndian.Uint64(header[0x118:0x120])
	extheaderSize := binary.LittleEndian.Uint32(header[0x180:0x184])

	n.sections = map[Section]Region{}
	n.allSections = map[Section]Region{}

	add := func(sec Section, startUnit, units uint32) {
		off := int64(startUnit) * MediaUnit
		size := int64(units) * MediaUnit
		region := Region{
			Section: sec,
			Offset:  off,
			Size:    size,
			End:     off + size,
			IV:      sectionIV(n.PartitionID, sec),
		}
		n.allSections[sec] = region
		if units != 0 {
			n.sections[sec] = region
		}
	}

	add(SectionHeader, 0, 1)
	add(SectionFullDecrypted, 0, uint32(n.ContentSize/MediaUnit))
	add(SectionRaw, 0, uint32(n.ContentSize/MediaUnit))

	if extheaderSize == 0x400 {
		add(SectionExtendedHeader, 1, 4)
	} else {
		add(SectionExtendedHeader, 0, 0)
	}

	add(SectionLogo, binary.LittleEndian.Uint32(header[0x198:0x19C]), binary.LittleEndian.Uint32(header[0x19C:0x1A0]))
	add(SectionPlain, binary.LittleEndian.Uint32(header[0x190:0x194]), binary.LittleEndian.Uint32(header[0x194:0x198]))
	add(SectionExeFS, binary.LittleEndian.Uint32(header[0x1A0:0x1A4]), binary.LittleEndian.Uint32(header[0x1A4:0x1A8]))
	add(SectionRomFS, binary.LittleEndian.Uint32(header[0x1B0:0x1B4]), binary.LittleEndian.Uint32(header[0x1B4:0x1B8]))

	flagsRaw := header[0x188:0x190]
	n.Flags = Flags{
		CryptoMethod:   flagsRaw[3],
		Executable:     flagsRaw[5]&0x2 != 0,
		FixedCryptoKey: flagsRaw[7]&0x1 != 0,
		NoRomFS:        flagsRaw[7]&0x2 != 0,
		NoCrypto:       flagsRaw[7]&0x4 != 0,
		UsesSeed:       flagsRaw[7]&0x20 != 0,
	}

	if n.Flags.FixedCryptoKey {
		var key [16]byte
		if n.ProgramID&(0x10<<32) != 0 {
			key = FixedSystemKey
		}
		eng.SetNormalKey(crypto.KeyslotNCCH, key[:])
		eng.SetNormalKey(n.extraKeyslot(), key[:])
	} else {
		eng.SetKeyY(crypto.KeyslotNCCH, n.KeyY[:])
		if !n.Flags.UsesSeed {
			eng.SetKeyY(n.extraKeyslot(), n.KeyY[:])
		}
	}

	if loadSections {
		if n.Flags.UsesSeed && !n.seedSetUp && !n.Flags.FixedCryptoKey {
			return n, fmt.Errorf("ncch: %w", ErrSeedRequired)
		}
		if err := n.LoadSections(); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// extraKeyslot returns the keyslot used for RomFS and extra-crypto ExeFS.
func (n *NCCH) extraKeyslot() crypto.Keyslot {
	return extraCryptoFlags[n.Flags.CryptoMethod]
}

// SetupSeed verifies seed against the header's seed-verify hash and, on
// success, derives and installs the seeded KeyY for the extra keyslot.
func (n *NCCH) SetupSeed(seed []byte) error {
	if !n.Flags.UsesSeed {
		return ErrSeedNotUsed
	}
	var pid [8]byte
	binary.LittleEndian.PutUint64(pid[:], n.ProgramID)
	h := sha256.New()
	h.Write(seed)
	h.Write(pid[:])
	sum := h.Sum(nil)
	if !bytes.Equal(sum[0:4], n.SeedVerify[:]) {
		return ErrSeedMismatch
	}

	n.seed = append([]byte(nil), seed...)
	keyed := sha256.Sum256(append(append([]byte(nil), n.KeyY[:]...), seed...))
	copy(n.seededKeyY[:], keyed[:16])
	n.seedSetUp = true
	n.crypto.SetKeyY(n.extraKeyslot(), n.seededKeyY[:])
	return nil
}

// GetSeedFromSeedDB scans a seeddb.bin image for an entry matching
// programID, per the format used by custom-install tooling and GodMode9.
func GetSeedFromSeedDB(r io.ReaderAt, programID uint64) ([]byte, error) {
	var countBuf [4]byte
	if _, err := r.ReadAt(countBuf[:], 0); err != nil {
		return nil, fmt.Errorf("ncch: reading seeddb count: %w", err)
	}
	count := binary.LittleEndian.Uint32(countBuf[:])

	var tid [8]byte
	binary.LittleEndian.PutUint64(tid[:], programID)

	entry := make([]byte, 0x20)
	for i := uint32(0); i < count; i++ {
		off := int64(0x10) + int64(i)*0x20
		if _, err := r.ReadAt(entry, off); err != nil {
			return nil, fmt.Errorf("ncch: reading seeddb entry %d: %w", i, err)
		}
		if bytes.Equal(entry[0:8], tid[:]) {
			seed := make([]byte, 0x10)
			copy(seed, entry[0x8:0x18])
			return seed, nil
		}
	}
	return nil, fmt.Errorf("ncch: %w", ErrSeedNotFound)
}

// LoadSections parses the ExeFS header (and records which byte ranges
// within it must stay on the Original NCCH keyslot, spec §4.3) and the
// RomFS tree, if present.
func (n *NCCH) LoadSections() error {
	if _, ok := n.sections[SectionExeFS]; ok {
		header := make([]byte, exefs.HeaderSize)
		if _, err := n.OpenRawSection(SectionExeFS).ReadAt(header, 0); err != nil {
			return fmt.Errorf("ncch: reading exefs header: %w", err)
		}
		ef, err := exefs.Parse(header)
		if err != nil {
			return fmt.Errorf("ncch: parsing exefs: %w", err)
		}

		n.exefsKeyslotNormalRange = [][2]int64{{0, exefs.HeaderSize}}
		for _, ent := range ef.Entries {
			if exefsNormalCryptoFiles[ent.Name] {
				start := ent.Offset + exefs.HeaderSize
				end := start + util.Roundup(ent.Size, MediaUnit)
				n.exefsKeyslotNormalRange = append(n.exefsKeyslotNormalRange, [2]int64{start, end})
			}
		}
		n.ExeFS = ef
	}

	if !n.Flags.NoRomFS {
		if region, ok := n.sections[SectionRomFS]; ok {
			data, err := n.GetData(SectionRomFS, 0, region.Size)
			if err != nil {
				return fmt.Errorf("ncch: reading romfs: %w", err)
			}
			rf, err := romfs.Parse(data, n.caseInsensitive)
			if err != nil {
				return fmt.Errorf("ncch: parsing romfs: %w", err)
			}
			n.RomFS = rf
		}
	}
	return nil
}

// sectionReaderAt adapts GetData to io.ReaderAt for a single section.
type sectionReaderAt struct {
	n       *NCCH
	section Section
}

func (s sectionReaderAt) ReadAt(p []byte, off int64) (int, error) {
	data, err := s.n.GetData(s.section, off, int64(len(p)))
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
// one NCCH section.
func (n *NCCH) OpenRawSection(section Section) io.ReaderAt {
	return sectionReaderAt{n: n, section: section}
}

// GetData decrypts size bytes of section starting at offset (both relative
// to the section's own start), clamping size to the section's bound.
func (n *NCCH) GetData(section Section, offset, size int64) ([]byte, error) {
	region, ok := n.allSections[section]
	if !ok {
		return nil, fmt.Errorf("ncch: unknown section %d: %w", section, ErrInvalidSection)
	}
	if offset+size > region.Size {
		size = region.Size - offset
	}
	if size <= 0 {
		return nil, nil
	}

	if section == SectionFullDecrypted {
		return n.getFullDecrypted(offset, size)
	}

	if n.Flags.NoCrypto || noEncryption[section] {
		buf := make([]byte, size)
		if _, err := n.inner.ReadAt(buf, n.start+region.Offset+offset); err != nil && err != io.EOF {
			return nil, fmt.Errorf("ncch: reading section %d: %w", section, err)
		}
		return buf, nil
	}

	if section == SectionExeFS && n.Flags.CryptoMethod != 0x00 {
		return n.readExeFSChunked(offset, size)
	}

	keyslot := crypto.KeyslotNCCH
	if section == SectionRomFS {
		keyslot = n.extraKeyslot()
	}

	ra := n.regionReaderAt(region)
	ctr, err := crypto.NewCTRReader(n.crypto, keyslot, region.IV, ra)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := ctr.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("ncch: decrypting section %d: %w", section, err)
	}
	return buf, nil
}

// readExeFSChunked decrypts an ExeFS byte range when crypto_method selects
// a newer keyslot for everything except the icon/banner/header range, which
// must stay on the Original NCCH keyslot (spec §4.3).
func (n *NCCH) readExeFSChunked(offset, size int64) ([]byte, error) {
	region := n.allSections[SectionExeFS]
	before := offset % MediaUnit
	alignedOffset := offset - before
	alignedSize := util.Roundup(size+before, MediaUnit)

	ra := n.regionReaderAt(region)
	normalCTR, err := crypto.NewCTRReader(n.crypto, crypto.KeyslotNCCH, region.IV, ra)
	if err != nil {
		return nil, err
	}
	extraCTR, err := crypto.NewCTRReader(n.crypto, n.extraKeyslot(), region.IV, ra)
	if err != nil {
		return nil, err
	}

	out := make([]byte, alignedSize)
	for chunk := int64(0); chunk < alignedSize; chunk += MediaUnit {
		absChunk := alignedOffset + chunk
		reader := extraCTR
		for _, r := range n.exefsKeyslotNormalRange {
			if r[0] <= absChunk && absChunk < r[1] {
				reader = normalCTR
				break
			}
		}
		if _, err := reader.ReadAt(out[chunk:chunk+MediaUnit], absChunk); err != nil && err != io.EOF {
			return nil, fmt.Errorf("ncch: decrypting exefs chunk at 0x%X: %w", absChunk, err)
		}
	}
	return out[before : before+size], nil
}

type fdRun struct {
	section Section
	base    int64
	size    int64
}

// getFullDecrypted assembles a byte range as if the whole NCCH had been
// decrypted once into a contiguous plaintext image, including the header
// flag-byte fixups (0x18B cleared, 0x18F set to 4) every real decrypted
// image carries.
func (n *NCCH) getFullDecrypted(offset, size int64) ([]byte, error) {
	before := offset % MediaUnit
	alignedOffset := offset - before
	end := alignedOffset + util.Roundup(size+before, MediaUnit)

	header := n.allSections[SectionHeader]
	extheader := n.allSections[SectionExtendedHeader]
	logo := n.allSections[SectionLogo]
	plain := n.allSections[SectionPlain]
	exefsRegion := n.allSections[SectionExeFS]
	romfsRegion := n.allSections[SectionRomFS]

	var runs []*fdRun
	lastSection := Section(0)
	haveLast := false

	for chunk := alignedOffset; chunk < end; chunk += MediaUnit {
		var sec Section
		var secOff int64
		raw := false
		switch {
		case romfsRegion.Offset <= chunk && chunk < romfsRegion.End:
			sec, secOff = SectionRomFS, romfsRegion.Offset
		case exefsRegion.Offset <= chunk && chunk < exefsRegion.End:
			sec, secOff = SectionExeFS, exefsRegion.Offset
		case header.Offset <= chunk && chunk < header.End:
			sec, secOff = SectionHeader, header.Offset
		case extheader.Offset <= chunk && chunk < extheader.End:
			sec, secOff = SectionExtendedHeader, extheader.Offset
		case logo.Offset <= chunk && chunk < logo.End:
			sec, secOff = SectionLogo, logo.Offset
		case plain.Offset <= chunk && chunk < plain.End:
			sec, secOff = SectionPlain, plain.Offset
		default:
			sec, secOff, raw = SectionRaw, 0, true
		}

		if raw {
			runs = append(runs, &fdRun{section: SectionRaw, base: chunk, size: MediaUnit})
			haveLast = false
			continue
		}
		if haveLast && lastSection == sec {
			runs[len(runs)-1].size += MediaUnit
		} else {
			runs = append(runs, &fdRun{section: sec, base: chunk - secOff, size: MediaUnit})
			lastSection = sec
			haveLast = true
		}
	}

	cutStart := before
	cutEnd := MediaUnit - ((size + before) % MediaUnit)
	trimEnd := cutEnd != MediaUnit

	var out []byte
	for i, run := range runs {
		data, err := n.GetData(run.section, run.base, run.size)
		if err != nil {
			return nil, err
		}
		if run.section == SectionHeader && run.base == 0 {
			fixed := make([]byte, len(data))
			copy(fixed, data)
			if len(fixed) > 0x18F {
				fixed[0x18B] = 0
				fixed[0x18F] = 4
			}
			data = fixed
		}
		if i == 0 {
			data = data[cutStart:]
		}
		if i == len(runs)-1 && trimEnd {
			data = data[:int64(len(data))-cutEnd]
		}
		out = append(out, data...)
	}
	return out, nil
}

type regionReaderAt struct {
	inner io.ReaderAt
	base  int64
}

func (r regionReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return r.inner.ReadAt(p, r.base+off)
}

func (n *NCCH) regionReaderAt(region Region) io.ReaderAt {
	return regionReaderAt{inner: n.inner, base: n.start + region.Offset}
}

func sectionIV(partitionID uint64, sec Section) [16]byte {
	var iv [16]byte
	binary.BigEndian.PutUint64(iv[0:8], partitionID)
	iv[8] = byte(sec)
	return iv
}

