package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

const ticketMinLength = 0x2AC

const (
	ticketTitlekeyOffset = 0x1BF
	ticketTitleIDOffset  = 0x1DC
	ticketCommonKeyIdx   = 0x1F1
)

// devCommonKey0 is the developer-unit override for common-key index 0.
var devCommonKey0 = [16]byte{
	0x0C, 0x76, 0x72, 0x30, 0xF0, 0x99, 0x8F, 0x1C,
	0x46, 0x82, 0x82, 0x02, 0xFA, 0xAC, 0xBE, 0x4C,
}

// commonKeyY is the 6-entry retail common-key table selected by a ticket's
// common-key index (spec §4.1 "Ticket ingestion").
var commonKeyY = [6][16]byte{
	{0xD0, 0x7B, 0x33, 0x7F, 0x9C, 0xA4, 0x38, 0x59, 0x32, 0xA2, 0xE2, 0x57, 0x23, 0x23, 0x2E, 0xB9},
	{0x0C, 0x04, 0x51, 0xF0, 0xBD, 0xE1, 0xAC, 0xCD, 0x1D, 0x2E, 0xDD, 0x6D, 0xDD, 0x41, 0x71, 0xBD},
	{0xC4, 0xA8, 0xF2, 0xCA, 0xC1, 0x4D, 0x6C, 0xA0, 0x0B, 0xC1, 0x0C, 0x8B, 0xF5, 0x09, 0x09, 0x69},
	{0xE3, 0x91, 0xEB, 0x32, 0x74, 0x29, 0x6A, 0x27, 0x83, 0xB6, 0x1E, 0x5B, 0x04, 0xFD, 0xA5, 0x89},
	{0x21, 0x9E, 0xFF, 0x77, 0x35, 0x68, 0x46, 0xF0, 0x23, 0x4E, 0xF2, 0xDA, 0x0F, 0x9B, 0x7A, 0xD1},
	{0x9A, 0x97, 0x1A, 0xA2, 0xC8, 0x9C, 0x34, 0xA8, 0xB7, 0x83, 0xB3, 0x0A, 0x34, 0xFE, 0xDC, 0x3C},
}

// IngestTicket extracts a title's encrypted titlekey from a Ticket blob
// (spec §4.1), decrypts it under the selected common key, and stores the
// result directly as the normal key of the decrypted-titlekey slot (a
// convention that, unlike every other keyslot, bypasses the scrambler).
// dev selects the developer common-key-0 override.
func (e *Engine) IngestTicket(ticket []byte, dev bool) error {
	if len(ticket) < ticketMinLength {
		return fmt.Errorf("ticket: length %d: %w", len(ticket), ErrTicketLength)
	}

	titlekeyEnc := ticket[ticketTitlekeyOffset : ticketTitlekeyOffset+0x10]
	titleID := ticket[ticketTitleIDOffset : ticketTitleIDOffset+0x8]
	idx := ticket[ticketCommonKeyIdx]

	var keyY [16]byte
	if dev && idx == 0 {
		keyY = devCommonKey0
	} else if int(idx) < len(commonKeyY) {
		keyY = commonKeyY[idx]
	} else {
		keyY = commonKeyY[0]
	}
	e.SetKeyY(KeyslotCommonKey, keyY[:])

	normal, err := e.NormalKey(KeyslotCommonKey)
	if err != nil {
		return fmt.Errorf("ticket: deriving common key: %w", err)
	}

	block, err := aes.NewCipher(normal)
	if err != nil {
		return err
	}
	iv := make([]byte, 16)
	copy(iv, titleID)

	titlekey := make([]byte, 16)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(titlekey, titlekeyEnc)

	e.SetNormalKey(KeyslotDecTitlekey, titlekey)
	return nil
}
