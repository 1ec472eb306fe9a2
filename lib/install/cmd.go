package install

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/ihaveamac/custom-install-go/lib/crypto"
	"github.com/ihaveamac/custom-install-go/lib/tmd"
)

// missingContentID is the placeholder content ID for a gap in the content
// index (CMD_MISSING in the original tooling).
var missingContentID = [4]byte{0xFF, 0xFF, 0xFF, 0xFF}

// missingContentCMAC is the literal placeholder CMAC for a gap in the
// content index. The console does compute a real CMAC for missing
// contents by some undocumented rule; this ASCII placeholder is what every
// known installer emits and the title functions fine without the real one.
var missingContentCMAC = []byte("MISSING CONTENT!")

// contentCMACEntry is one content's row in the CMD tables: its reversed
// content ID and the CMAC computed over its ciphertext header.
type contentCMACEntry struct {
	id   [4]byte
	cmac [16]byte
}

// buildCMD reads the first 0x100 bytes (starting at offset 0x100) of each
// content's ciphertext, appends the content index (LE32) and the reversed
// content ID, CMACs the SHA-256 of that under CMACSDNAND, and assembles the
// CMD file body described in spec §4.8 step 7. openContent opens a
// content's raw (still-NCCH-encrypted) byte stream by index.
func buildCMD(eng *crypto.Engine, cmdID uint32, contents []tmd.ChunkRecord, openContent func(index uint16) io.ReaderAt) ([]byte, error) {
	entries := map[uint16]contentCMACEntry{}
	var highestIndex uint16

	for _, rec := range contents {
		if rec.Index > highestIndex {
			highestIndex = rec.Index
		}

		header := make([]byte, 0x100)
		if _, err := openContent(rec.Index).ReadAt(header, 0x100); err != nil && err != io.EOF {
			return nil, fmt.Errorf("install: reading cmac header for content %d: %w", rec.Index, err)
		}

		var idBytes [4]byte
		binary.BigEndian.PutUint32(idBytes[:], rec.ID)
		reversed := [4]byte{idBytes[3], idBytes[2], idBytes[1], idBytes[0]}

		cmacData := append(append([]byte(nil), header...), encodeLE32(uint32(rec.Index))...)
		cmacData = append(cmacData, reversed[:]...)
		hash := sha256.Sum256(cmacData)

		digest, err := eng.CMAC(crypto.KeyslotCMACSDNAND, hash[:])
		if err != nil {
			return nil, fmt.Errorf("install: cmac content %d: %w", rec.Index, err)
		}

		var entry contentCMACEntry
		entry.id = reversed
		copy(entry.cmac[:], digest)
		entries[rec.Index] = entry
	}

	idsByIndex := make([][4]byte, highestIndex+1)
	for i := range idsByIndex {
		idsByIndex[i] = missingContentID
	}
	var installedIDs [][4]byte
	cmacs := make([][]byte, highestIndex+1)

	for i := uint16(0); i <= highestIndex; i++ {
		if entry, ok := entries[i]; ok {
			idsByIndex[i] = entry.id
			cmacs[i] = append([]byte(nil), entry.cmac[:]...)
			installedIDs = append(installedIDs, entry.id)
		} else {
			cmacs[i] = missingContentCMAC
		}
	}

	sort.Slice(installedIDs, func(a, b int) bool {
		return binary.LittleEndian.Uint32(installedIDs[a][:]) < binary.LittleEndian.Uint32(installedIDs[b][:])
	})

	var buf bytes.Buffer
	buf.Write(encodeLE32(cmdID))
	buf.Write(encodeLE32(uint32(len(idsByIndex))))
	buf.Write(encodeLE32(uint32(len(installedIDs))))
	buf.Write(encodeLE32(1))

	headerCMAC, err := eng.CMAC(crypto.KeyslotCMACSDNAND, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("install: cmac cmd header: %w", err)
	}
	buf.Write(headerCMAC)

	for _, id := range idsByIndex {
		buf.Write(id[:])
	}
	for _, id := range installedIDs {
		buf.Write(id[:])
	}
	for _, c := range cmacs {
		buf.Write(c)
	}

	return buf.Bytes(), nil
}

func encodeLE32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}
