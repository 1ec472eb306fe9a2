package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// sdKeyYOffset is where the real KeyY lives in a movable.sed longer than
// the minimal 0x10-byte form.
const sdKeyYOffset = 0x110

// SetupSDKey loads the console-unique SD KeyY from a movable.sed blob
// (accepted lengths 0x10, 0x120, 0x140 per spec §3/§4.1) into keyslots
// 0x34 (SD), 0x30 (CMACSDNAND), and 0x3A (DSiWareExport), and returns the
// 16-byte id0 SD directory name derived from it.
func (e *Engine) SetupSDKey(movable []byte) (id0 [16]byte, err error) {
	var keyY []byte
	switch len(movable) {
	case 0x10:
		keyY = movable[0:0x10]
	case 0x120, 0x140:
		keyY = movable[sdKeyYOffset : sdKeyYOffset+0x10]
	default:
		return id0, fmt.Errorf("sdkey: length %d: %w", len(movable), ErrBadMovableSed)
	}

	for _, s := range []Keyslot{KeyslotSD, KeyslotCMACSDNAND, KeyslotDSiWareExport} {
		e.SetKeyY(s, keyY)
	}

	id0 = computeID0(keyY)
	return id0, nil
}

// computeID0 implements spec §3: the first 16 bytes of SHA-256(KeyY),
// reinterpreted as four little-endian 32-bit words and re-packed
// big-endian.
func computeID0(keyY []byte) [16]byte {
	sum := sha256.Sum256(keyY)
	var out [16]byte
	for i := 0; i < 4; i++ {
		word := binary.LittleEndian.Uint32(sum[i*4 : i*4+4])
		binary.BigEndian.PutUint32(out[i*4:i*4+4], word)
	}
	return out
}
