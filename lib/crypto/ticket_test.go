package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"testing"
)

// buildTicket constructs a minimal synthetic ticket long enough to satisfy
// IngestTicket, with the titlekey field, title ID, and common-key index set
// at their documented offsets (spec §4.1).
func buildTicket(titlekeyEnc []byte, titleID uint64, commonKeyIdx byte) []byte {
	t := make([]byte, ticketMinLength)
	copy(t[ticketTitlekeyOffset:ticketTitlekeyOffset+16], titlekeyEnc)
	for i := 0; i < 8; i++ {
		t[ticketTitleIDOffset+i] = byte(titleID >> (56 - 8*i))
	}
	t[ticketCommonKeyIdx] = commonKeyIdx
	return t
}

func TestTicketTitlekeyRoundTrip(t *testing.T) {
	const titleID = uint64(0x0004000000046500)

	// KeyX of the common-key slot normally comes from the bootROM; a fixed
	// stand-in is enough for both engines to derive the same normal key.
	keyX := bytes.Repeat([]byte{0x3D}, 16)

	e := NewEngine()
	e.SetKeyX(KeyslotCommonKey, keyX)
	e.SetKeyY(KeyslotCommonKey, commonKeyY[0][:])
	commonNormal, err := e.NormalKey(KeyslotCommonKey)
	if err != nil {
		t.Fatalf("NormalKey(common): %v", err)
	}

	plainTitlekey := bytes.Repeat([]byte{0x5A}, 16)
	iv := make([]byte, 16)
	for i := 0; i < 8; i++ {
		iv[i] = byte(titleID >> (56 - 8*i))
	}

	block, err := aes.NewCipher(commonNormal)
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	titlekeyEnc := make([]byte, 16)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(titlekeyEnc, plainTitlekey)

	// Fresh engine: only the bootROM KeyX stand-in and the ticket are
	// loaded; IngestTicket supplies the common KeyY itself.
	e2 := NewEngine()
	e2.SetKeyX(KeyslotCommonKey, keyX)
	ticket := buildTicket(titlekeyEnc, titleID, 0)
	if err := e2.IngestTicket(ticket, false); err != nil {
		t.Fatalf("IngestTicket: %v", err)
	}

	got, err := e2.NormalKey(KeyslotDecTitlekey)
	if err != nil {
		t.Fatalf("NormalKey(titlekey): %v", err)
	}
	if !bytes.Equal(got, plainTitlekey) {
		t.Fatalf("decrypted titlekey = %X, want %X", got, plainTitlekey)
	}

	// Spec's test vector description: re-encrypting an all-zero plaintext
	// under the decrypted titlekey with IV = title_id||0^8 must round-trip.
	zeroBlock := make([]byte, 16)
	encBlock, err := aes.NewCipher(got)
	if err != nil {
		t.Fatalf("aes.NewCipher(titlekey): %v", err)
	}
	cipherOut := make([]byte, 16)
	cipher.NewCBCEncrypter(encBlock, iv).CryptBlocks(cipherOut, zeroBlock)
	roundTrip := make([]byte, 16)
	cipher.NewCBCDecrypter(encBlock, iv).CryptBlocks(roundTrip, cipherOut)
	if !bytes.Equal(roundTrip, zeroBlock) {
		t.Fatalf("titlekey cipher did not round-trip")
	}
}

func TestTicketTooShort(t *testing.T) {
	e := NewEngine()
	if err := e.IngestTicket(make([]byte, 10), false); err == nil {
		t.Fatalf("expected ErrTicketLength for a short ticket")
	}
}
