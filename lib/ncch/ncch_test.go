package ncch

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"testing"

	internalcrypto "github.com/ihaveamac/custom-install-go/lib/crypto"
)

// baseHeader builds a minimal 0x200-byte NCCH header with the given content
// size (in media units), ExeFS region (in media units), and raw flag bytes
// (0x188-0x18F). No extended header, logo, plain, or RomFS region is
// present.
func baseHeader(t *testing.T, contentUnits, exefsStartUnit, exefsUnits uint32, flags [8]byte, partitionID, programID uint64) []byte {
	t.Helper()
	h := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(h[0x104:0x108], contentUnits)
	binary.LittleEndian.PutUint64(h[0x108:0x110], partitionID)
	binary.LittleEndian.PutUint64(h[0x118:0x120], programID)
	copy(h[0x150:0x160], []byte("CTR-P-TEST\x00\x00\x00\x00\x00\x00"))
	binary.LittleEndian.PutUint32(h[0x180:0x184], 0) // no extheader
	copy(h[0x188:0x190], flags[:])
	binary.LittleEndian.PutUint32(h[0x1A0:0x1A4], exefsStartUnit)
	binary.LittleEndian.PutUint32(h[0x1A4:0x1A8], exefsUnits)
	return h
}

func TestNCCHNoCryptoPlainRead(t *testing.T) {
	var flags [8]byte
	flags[7] = 0x04 // no_crypto

	exefsPlain := make([]byte, MediaUnit) // all-zero entries: a valid, empty ExeFS

	header := baseHeader(t, 2, 1, 1, flags, 0x0004000000031900, 0x0004000000031900)
	buf := make([]byte, 2*MediaUnit)
	copy(buf[0:MediaUnit], header)
	copy(buf[MediaUnit:2*MediaUnit], exefsPlain)

	eng := internalcrypto.NewEngine()
	n, err := Open(bytes.NewReader(buf), 0, false, eng, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if n.ProductCode != "CTR-P-TEST" {
		t.Fatalf("product code = %q", n.ProductCode)
	}
	if n.ExeFS == nil || len(n.ExeFS.Entries) != 0 {
		t.Fatalf("expected empty ExeFS, got %+v", n.ExeFS)
	}

	got, err := n.GetData(SectionExeFS, 0, MediaUnit)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if !bytes.Equal(got, exefsPlain) {
		t.Fatalf("no_crypto ExeFS section was modified")
	}
}

func TestNCCHExeFSDecryptionRoundTrip(t *testing.T) {
	var flags [8]byte // crypto_method=0x00, no_crypto=0, uses_seed=0

	partitionID := uint64(0x0004000000031900)
	plaintext := make([]byte, MediaUnit) // empty ExeFS header

	header := baseHeader(t, 2, 1, 1, flags, partitionID, partitionID)

	var testKey [16]byte
	copy(testKey[:], []byte("0123456789ABCDEF"))

	block, err := aes.NewCipher(testKey[:])
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	iv := sectionIV(partitionID, SectionExeFS)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv[:]).XORKeyStream(ciphertext, plaintext)

	buf := make([]byte, 2*MediaUnit)
	copy(buf[0:MediaUnit], header)
	copy(buf[MediaUnit:2*MediaUnit], ciphertext)

	eng := internalcrypto.NewEngine()
	eng.SetNormalKey(internalcrypto.KeyslotNCCH, testKey[:])

	n, err := Open(bytes.NewReader(buf), 0, false, eng, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	got, err := n.GetData(SectionExeFS, 0, MediaUnit)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("decrypted ExeFS does not match original plaintext")
	}
}

func TestNCCHFullDecryptedAppliesHeaderFixup(t *testing.T) {
	var flags [8]byte
	flags[7] = 0x04 // no_crypto, so the header round-trips byte for byte except the fixup

	header := baseHeader(t, 1, 0, 0, flags, 0x0004000000031900, 0x0004000000031900)
	header[0x18B] = 0xFF
	header[0x18F] = 0xFF

	buf := make([]byte, MediaUnit)
	copy(buf, header)

	eng := internalcrypto.NewEngine()
	n, err := Open(bytes.NewReader(buf), 0, false, eng, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	got, err := n.GetData(SectionFullDecrypted, 0, MediaUnit)
	if err != nil {
		t.Fatalf("GetData(FullDecrypted): %v", err)
	}
	if got[0x18B] != 0 {
		t.Fatalf("0x18B = 0x%02X, want 0", got[0x18B])
	}
	if got[0x18F] != 4 {
		t.Fatalf("0x18F = 0x%02X, want 4", got[0x18F])
	}
	if !bytes.Equal(got[:0x18B], header[:0x18B]) {
		t.Fatalf("full-decrypted header bytes before the fixup region changed unexpectedly")
	}
}
