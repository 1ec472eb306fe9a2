package cia

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ihaveamac/custom-install-go/internal/util"
	internalcrypto "github.com/ihaveamac/custom-install-go/lib/crypto"
	"github.com/ihaveamac/custom-install-go/lib/tmd"
)

const (
	tmdHeaderSize         = 0xC4
	tmdInfoRecordsSize    = 0x900
	tmdChunkRecordSize    = 0x30
	tmdTitleIDOffset      = 0x4C
	tmdVersionOffset      = 0x9C
	tmdContentCountOffset = 0x9E
	tmdInfoHashOffset     = 0xA4
	tmdSigSize            = 0x100
	tmdSigPadding         = 0x3C
	tmdSigType            = uint32(0x00010001)
)

func encodeContentType(f tmd.ContentTypeFlags) uint16 {
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

// makeSyntheticTMDBytes builds a minimal well-formed TMD (sig type
// 0x00010001) with a single Info Record covering all given chunks.
func makeSyntheticTMDBytes(t *testing.T, titleID uint64, chunks []tmd.ChunkRecord) []byte {
	t.Helper()

	buf := make([]byte, 0, 4+tmdSigSize+tmdSigPadding+tmdHeaderSize+tmdInfoRecordsSize+len(chunks)*tmdChunkRecordSize)
	var sigType [4]byte
	binary.BigEndian.PutUint32(sigType[:], tmdSigType)
	buf = append(buf, sigType[:]...)
	buf = append(buf, make([]byte, tmdSigSize+tmdSigPadding)...)

	header := make([]byte, tmdHeaderSize)
	binary.BigEndian.PutUint64(header[tmdTitleIDOffset:tmdTitleIDOffset+8], titleID)
	binary.BigEndian.PutUint16(header[tmdVersionOffset:tmdVersionOffset+2], 0)
	binary.BigEndian.PutUint16(header[tmdContentCountOffset:tmdContentCountOffset+2], uint16(len(chunks)))

	chunkData := make([]byte, len(chunks)*tmdChunkRecordSize)
	for i, c := range chunks {
		cb := chunkData[i*tmdChunkRecordSize : (i+1)*tmdChunkRecordSize]
		binary.BigEndian.PutUint32(cb[0:4], c.ID)
		binary.BigEndian.PutUint16(cb[4:6], c.Index)
		binary.BigEndian.PutUint16(cb[6:8], encodeContentType(c.Type))
		binary.BigEndian.PutUint64(cb[8:16], c.Size)
		copy(cb[16:48], c.Hash[:])
	}

	infoRaw := make([]byte, tmdInfoRecordsSize)
	binary.BigEndian.PutUint16(infoRaw[0:2], 0)
	binary.BigEndian.PutUint16(infoRaw[2:4], uint16(len(chunks)))
	chunkHash := sha256.Sum256(chunkData)
	copy(infoRaw[4:36], chunkHash[:])

	infoHash := sha256.Sum256(infoRaw)
	copy(header[tmdInfoHashOffset:tmdInfoHashOffset+32], infoHash[:])

	buf = append(buf, header...)
	buf = append(buf, infoRaw...)
	buf = append(buf, chunkData...)
	return buf
}

func makeSyntheticTicket(t *testing.T) []byte {
	t.Helper()
	const ticketLen = 0x2AC
	return make([]byte, ticketLen) // common-key index 0, all-zero titlekey: unused by an unencrypted content
}

// buildCIA assembles a full synthetic CIA image with content as its single
// unencrypted content region, marking activeIndices in the content-index
// bitmap, and returns the image buffer.
func buildCIA(t *testing.T, titleID uint64, activeIndices []uint16, chunks []tmd.ChunkRecord, content []byte) []byte {
	t.Helper()

	const archiveHeaderSize = 0x2020
	contentIndex := make([]byte, archiveHeaderSize-headerSize)
	for _, idx := range activeIndices {
		byteOff := idx / 8
		bitInByte := idx % 8 // index = byteOff*8 + (7-p) => p = 7-bitInByte
		contentIndex[byteOff] |= 1 << uint(7-bitInByte)
	}

	ticket := makeSyntheticTicket(t)
	tmdBytes := makeSyntheticTMDBytes(t, titleID, chunks)

	certChainSize := 0
	ticketSize := len(ticket)
	tmdSize := len(tmdBytes)
	contentSize := len(content)

	certChainOffset := util.Roundup(archiveHeaderSize, alignSize)
	ticketOffset := certChainOffset + util.Roundup(int64(certChainSize), alignSize)
	tmdOffset := ticketOffset + util.Roundup(int64(ticketSize), alignSize)
	contentOffset := tmdOffset + util.Roundup(int64(tmdSize), alignSize)
	metaOffset := contentOffset + util.Roundup(int64(contentSize), alignSize)

	buf := make([]byte, metaOffset)

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0x0:0x4], archiveHeaderSize)
	binary.LittleEndian.PutUint32(header[0x8:0xC], uint32(certChainSize))
	binary.LittleEndian.PutUint32(header[0xC:0x10], uint32(ticketSize))
	binary.LittleEndian.PutUint32(header[0x10:0x14], uint32(tmdSize))
	binary.LittleEndian.PutUint32(header[0x14:0x18], 0)
	binary.LittleEndian.PutUint64(header[0x18:0x20], uint64(contentSize))

	copy(buf[0:headerSize], header)
	copy(buf[headerSize:archiveHeaderSize], contentIndex)
	copy(buf[ticketOffset:ticketOffset+int64(ticketSize)], ticket)
	copy(buf[tmdOffset:tmdOffset+int64(tmdSize)], tmdBytes)
	copy(buf[contentOffset:contentOffset+int64(contentSize)], content)

	return buf
}

func TestCIAParsesSectionsAndContent(t *testing.T) {
	content := bytes.Repeat([]byte{0xAB}, 0x40)
	chunks := []tmd.ChunkRecord{{ID: 0, Index: 0, Size: uint64(len(content))}}
	buf := buildCIA(t, 0x0004000000046500, []uint16{0}, chunks, content)

	// Open always ingests the ticket, which needs the common-key KeyX that
	// the bootROM would normally supply; a zero stand-in is enough here.
	eng := internalcrypto.NewEngine()
	eng.SetKeyX(internalcrypto.KeyslotCommonKey, make([]byte, 16))
	c, err := Open(bytes.NewReader(buf), 0, false, false, eng, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c.TMD.TitleID != 0x0004000000046500 {
		t.Fatalf("TitleID = %X", c.TMD.TitleID)
	}
	if len(c.ContentInfo) != 1 {
		t.Fatalf("ContentInfo = %d entries, want 1", len(c.ContentInfo))
	}

	got, err := c.GetData(Section(0), 0, int64(len(content)))
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content section bytes did not round-trip")
	}
}

func TestCIAMissingActiveContentFails(t *testing.T) {
	content := []byte{0x01}
	chunks := []tmd.ChunkRecord{{ID: 0, Index: 0, Size: 1}}
	// Mark content index 1 active in the bitmap, but the TMD only has index 0.
	buf := buildCIA(t, 0x0004000000046500, []uint16{1}, chunks, content)

	eng := internalcrypto.NewEngine()
	eng.SetKeyX(internalcrypto.KeyslotCommonKey, make([]byte, 16))
	_, err := Open(bytes.NewReader(buf), 0, false, false, eng, false)
	if !errors.Is(err, ErrMissingContent) {
		t.Fatalf("got err = %v, want ErrMissingContent", err)
	}
}
