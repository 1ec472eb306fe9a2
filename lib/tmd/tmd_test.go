package tmd

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"testing"
)

// makeSyntheticTMD builds a minimal well-formed TMD with sig type
// 0x00010004 (RSA-2048/SHA-256) and the given chunk records, covered by a
// single Info Record spanning all of them.
func makeSyntheticTMD(t *testing.T, titleID uint64, chunks []ChunkRecord) []byte {
	t.Helper()

	shape := sigShapes[0x00010004]
	buf := make([]byte, 0, 4+shape.size+shape.padding+headerSize+infoRecordsSize+len(chunks)*chunkRecordSize)

	var sigType [4]byte
	binary.BigEndian.PutUint32(sigType[:], 0x00010004)
	buf = append(buf, sigType[:]...)
	buf = append(buf, make([]byte, shape.size+shape.padding)...)

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint64(header[headerTitleIDOffset:headerTitleIDOffset+8], titleID)
	binary.BigEndian.PutUint16(header[headerVersionOffset:headerVersionOffset+2], 0)
	binary.BigEndian.PutUint16(header[headerContentCountOffset:headerContentCountOffset+2], uint16(len(chunks)))

	chunkData := make([]byte, len(chunks)*chunkRecordSize)
	for i, c := range chunks {
		cb := chunkData[i*chunkRecordSize : (i+1)*chunkRecordSize]
		binary.BigEndian.PutUint32(cb[0:4], c.ID)
		binary.BigEndian.PutUint16(cb[4:6], c.Index)
		binary.BigEndian.PutUint16(cb[6:8], c.Type.encode())
		binary.BigEndian.PutUint64(cb[8:16], c.Size)
		copy(cb[16:48], c.Hash[:])
	}

	infoRaw := make([]byte, infoRecordsSize)
	binary.BigEndian.PutUint16(infoRaw[0:2], 0)
	binary.BigEndian.PutUint16(infoRaw[2:4], uint16(len(chunks)))
	chunkHash := sha256.Sum256(chunkData)
	copy(infoRaw[4:36], chunkHash[:])

	infoHash := sha256.Sum256(infoRaw)
	copy(header[headerInfoHashOffset:headerInfoHashOffset+32], infoHash[:])

	buf = append(buf, header...)
	buf = append(buf, infoRaw...)
	buf = append(buf, chunkData...)
	return buf
}

func TestTMDLoadAndRoundTrip(t *testing.T) {
	chunks := []ChunkRecord{
		{ID: 0x00000000, Index: 0, Type: ContentTypeFlags{Encrypted: true}, Size: 0x1000},
		{ID: 0x00000001, Index: 1, Size: 0x2000},
	}
	data := makeSyntheticTMD(t, 0x000400000F800100, chunks)

	parsed, err := Load(data, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if parsed.TitleID != 0x000400000F800100 {
		t.Fatalf("TitleID = %X", parsed.TitleID)
	}
	if parsed.ContentCount != 2 {
		t.Fatalf("ContentCount = %d", parsed.ContentCount)
	}
	if !parsed.ChunkRecords[0].Type.Encrypted {
		t.Fatalf("expected chunk 0 encrypted flag set")
	}

	reserialized := parsed.Bytes()
	if !bytes.Equal(reserialized, data) {
		t.Fatalf("Bytes() did not round-trip:\n got  %X\n want %X", reserialized, data)
	}

	reparsed, err := Load(reserialized, true)
	if err != nil {
		t.Fatalf("Load(reserialized): %v", err)
	}
	if reparsed.TitleID != parsed.TitleID || reparsed.ContentCount != parsed.ContentCount {
		t.Fatalf("round-trip parse mismatch")
	}
}

func TestTMDFlippedInfoRecordHashFails(t *testing.T) {
	chunks := []ChunkRecord{{ID: 0, Index: 0, Size: 0x1000}}
	data := makeSyntheticTMD(t, 0x0004000000046500, chunks)

	// Flip one byte inside the Info Record's stored hash.
	pos := 4 + sigShapes[0x00010004].size + sigShapes[0x00010004].padding + headerSize + 4
	data[pos] ^= 0xFF

	if _, err := Load(data, true); err == nil {
		t.Fatalf("expected Load to fail on flipped info record hash")
	}
}

func TestTMDInvalidSignatureType(t *testing.T) {
	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:4], 0xDEADBEEF)
	if _, err := Load(data, true); err == nil {
		t.Fatalf("expected Load to reject unknown signature type")
	}
}
