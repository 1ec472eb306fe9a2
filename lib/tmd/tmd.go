// Package tmd parses and serializes 3DS Title Metadata (TMD): the signed
// record listing a title's version, save sizes, and the SHA-256-verified
// Chunk Records describing every content.
//
// https://www.3dbrew.org/wiki/Title_metadata
package tmd

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const (
	headerSize       = 0xC4
	infoRecordsSize  = 0x900
	infoRecordSize   = 0x24
	infoRecordCount  = infoRecordsSize / infoRecordSize // 64
	chunkRecordSize  = 0x30

	headerTitleIDOffset      = 0x4C
	headerSaveSizeOffset     = 0x5A
	headerSRLSaveSizeOffset  = 0x5E
	headerVersionOffset      = 0x9C
	headerContentCountOffset = 0x9E
	headerInfoHashOffset     = 0xA4
)

// sigShape describes the signature-data size and trailing zero padding for
// one of the six fixed signature types (spec §4.2).
type sigShape struct {
	size    int
	padding int
}

var sigShapes = map[uint32]sigShape{
	0x00010000: {0x200, 0x3C},
	0x00010001: {0x100, 0x3C},
	0x00010002: {0x3C, 0x40},
	0x00010003: {0x200, 0x3C},
	0x00010004: {0x100, 0x3C},
	0x00010005: {0x3C, 0x40},
}

// ContentTypeFlags decodes the 16-bit type field of a Chunk Record.
type ContentTypeFlags struct {
	Encrypted bool
	Disc      bool
	CFM       bool
	Optional  bool
	Shared    bool
}

func decodeContentTypeFlags(v uint16) ContentTypeFlags {
	return ContentTypeFlags{
		Encrypted: v&0x0001 != 0,
		Disc:      v&0x0002 != 0,
		CFM:       v&0x0004 != 0,
		Optional:  v&0x4000 != 0,
		Shared:    v&0x8000 != 0,
	}
}

func (f ContentTypeFlags) encode() uint16 {
	var v uint16
	if f.Encrypted {
		v |= 0x0001
	}
	if f.Disc {
		v |= 0x0002
	}
	if f.CFM {
		v |= 0x0004
	}
	if f.Optional {
		v |= 0x4000
	}
	if f.Shared {
		v |= 0x8000
	}
	return v
}

// ChunkRecord describes one content within a title.
type ChunkRecord struct {
	ID    uint32
	Index uint16
	Type  ContentTypeFlags
	Size  uint64
	Hash  [32]byte
}

// InfoRecord covers a contiguous run of Chunk Records, starting at
// IndexOffset, with a SHA-256 hash over their concatenation.
type InfoRecord struct {
	IndexOffset  uint16
	CommandCount uint16
	Hash         [32]byte
}

// TitleVersion decodes the packed major/minor/micro version field.
type TitleVersion uint16

func (v TitleVersion) Major() uint16 { return uint16(v) >> 10 & 0x3F }
func (v TitleVersion) Minor() uint16 { return uint16(v) >> 4 & 0x3F }
func (v TitleVersion) Micro() uint16 { return uint16(v) & 0xF }

// TMD is a parsed Title Metadata. Fields the pipeline never inspects are
// preserved as opaque byte slices so Bytes() round-trips byte-exact.
type TMD struct {
	SigType uint32
	sigData []byte // signature + its trailing padding, opaque
	header  []byte // the raw 0xC4 header; fields below are decoded copies, Bytes() writes header as-is

	TitleID      uint64
	SaveSize     uint32
	SRLSaveSize  uint32
	Version      TitleVersion
	ContentCount uint16

	InfoRecords  []InfoRecord // sparse: only non-empty slots
	infoRaw      []byte       // raw 0x900 bytes, exact for round-trip
	ChunkRecords []ChunkRecord
}

// Load parses a TMD from data, verifying Info-Record and Chunk-Record
// hashes unless verify is false.
func Load(data []byte, verify bool) (*TMD, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("tmd: too short: %w", ErrInvalidTMD)
	}
	sigType := binary.BigEndian.Uint32(data[0:4])
	shape, ok := sigShapes[sigType]
	if !ok {
		return nil, fmt.Errorf("tmd: signature type 0x%08X: %w", sigType, ErrInvalidSignatureType)
	}

	pos := 4
	sigDataLen := shape.size + shape.padding
	if len(data) < pos+sigDataLen+headerSize {
		return nil, fmt.Errorf("tmd: truncated header: %w", ErrInvalidTMD)
	}
	sigData := data[pos : pos+sigDataLen]
	pos += sigDataLen

	header := data[pos : pos+headerSize]
	pos += headerSize

	t := &TMD{
		SigType: sigType,
		sigData: append([]byte(nil), sigData...),
		header:  append([]byte(nil), header...),
	}
	t.TitleID = binary.BigEndian.Uint64(header[headerTitleIDOffset : headerTitleIDOffset+8])
	t.SaveSize = binary.LittleEndian.Uint32(header[headerSaveSizeOffset : headerSaveSizeOffset+4])
	t.SRLSaveSize = binary.LittleEndian.Uint32(header[headerSRLSaveSizeOffset : headerSRLSaveSizeOffset+4])
	t.Version = TitleVersion(binary.BigEndian.Uint16(header[headerVersionOffset : headerVersionOffset+2]))
	t.ContentCount = binary.BigEndian.Uint16(header[headerContentCountOffset : headerContentCountOffset+2])
	infoHash := header[headerInfoHashOffset : headerInfoHashOffset+32]

	if len(data) < pos+infoRecordsSize {
		return nil, fmt.Errorf("tmd: truncated info records: %w", ErrInvalidTMD)
	}
	infoRaw := data[pos : pos+infoRecordsSize]
	pos += infoRecordsSize
	t.infoRaw = append([]byte(nil), infoRaw...)

	chunkBytes := int(t.ContentCount) * chunkRecordSize
	if len(data) < pos+chunkBytes {
		return nil, fmt.Errorf("tmd: truncated chunk records: %w", ErrInvalidTMD)
	}
	chunkData := data[pos : pos+chunkBytes]

	t.ChunkRecords = make([]ChunkRecord, t.ContentCount)
	for i := 0; i < int(t.ContentCount); i++ {
		c := chunkData[i*chunkRecordSize : (i+1)*chunkRecordSize]
		var rec ChunkRecord
		rec.ID = binary.BigEndian.Uint32(c[0:4])
		rec.Index = binary.BigEndian.Uint16(c[4:6])
		rec.Type = decodeContentTypeFlags(binary.BigEndian.Uint16(c[6:8]))
		rec.Size = binary.BigEndian.Uint64(c[8:16])
		copy(rec.Hash[:], c[16:48])
		t.ChunkRecords[i] = rec
	}

	for i := 0; i < infoRecordCount; i++ {
		rec := infoRaw[i*infoRecordSize : (i+1)*infoRecordSize]
		if allZero(rec) {
			continue
		}
		var ir InfoRecord
		ir.IndexOffset = binary.BigEndian.Uint16(rec[0:2])
		ir.CommandCount = binary.BigEndian.Uint16(rec[2:4])
		copy(ir.Hash[:], rec[4:36])
		t.InfoRecords = append(t.InfoRecords, ir)
	}

	if verify {
		if err := t.verifyInfoHash(infoHash); err != nil {
			return nil, err
		}
		if err := t.verifyChunkCoverage(chunkData); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func (t *TMD) verifyInfoHash(want []byte) error {
	got := sha256.Sum256(t.infoRaw)
	if !bytesEqual(got[:], want) {
		return fmt.Errorf("tmd: info records hash mismatch: %w", ErrInvalidInfoRecord)
	}
	return nil
}

// verifyChunkCoverage hashes each Info Record's claimed run of Chunk
// Records and checks it against the record's stored hash, rejecting any
// Chunk Record covered by more than one Info Record (spec §4.2).
func (t *TMD) verifyChunkCoverage(chunkData []byte) error {
	covered := make(map[int]bool)
	for _, ir := range t.InfoRecords {
		start := int(ir.IndexOffset)
		count := int(ir.CommandCount)
		if start < 0 || start+count > len(t.ChunkRecords) {
			return fmt.Errorf("tmd: info record range out of bounds: %w", ErrInvalidInfoRecord)
		}
		for i := start; i < start+count; i++ {
			if covered[i] {
				return fmt.Errorf("tmd: chunk record %d covered by two info records: %w", i, ErrInvalidInfoRecord)
			}
			covered[i] = true
		}

		span := chunkData[start*chunkRecordSize : (start+count)*chunkRecordSize]
		got := sha256.Sum256(span)
		if !bytesEqual(got[:], ir.Hash[:]) {
			return fmt.Errorf("tmd: info record hash mismatch at offset %d: %w", start, ErrInvalidInfoRecord)
		}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Bytes serializes the TMD back to its wire format. Unused Info Record
// slots are zero-padded (spec §9 "info_records padding").
func (t *TMD) Bytes() []byte {
	out := make([]byte, 0, 4+len(t.sigData)+headerSize+infoRecordsSize+len(t.ChunkRecords)*chunkRecordSize)

	var sigTypeBuf [4]byte
	binary.BigEndian.PutUint32(sigTypeBuf[:], t.SigType)
	out = append(out, sigTypeBuf[:]...)
	out = append(out, t.sigData...)
	out = append(out, t.header...)
	out = append(out, t.infoRaw...)

	for _, c := range t.ChunkRecords {
		var buf [chunkRecordSize]byte
		binary.BigEndian.PutUint32(buf[0:4], c.ID)
		binary.BigEndian.PutUint16(buf[4:6], c.Index)
		binary.BigEndian.PutUint16(buf[6:8], c.Type.encode())
		binary.BigEndian.PutUint64(buf[8:16], c.Size)
		copy(buf[16:48], c.Hash[:])
		out = append(out, buf[:]...)
	}

	return out
}
