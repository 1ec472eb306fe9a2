// Package crypto implements the 3DS multi-keyslot AES state machine: the
// key scrambler, bootROM/ticket/SD-key ingestion, random-access AES-CTR and
// AES-CBC ciphers over files, and AES-CMAC.
//
// https://www.3dbrew.org/wiki/AES_Registers
// https://www.3dbrew.org/wiki/Protocol_Encryption
package crypto

import (
	"github.com/ihaveamac/custom-install-go/internal/util"
)

// NumKeyslots is the number of hardware AES keyslots (0x00-0x3F).
const NumKeyslots = 0x40

// Keyslot identifies one of the 64 hardware AES key registers.
type Keyslot byte

// Named keyslots referenced by the install pipeline. Unlisted slots are
// still addressable by raw number.
const (
	KeyslotTWLNAND       Keyslot = 0x03
	KeyslotNCCH93        Keyslot = 0x18
	KeyslotNCCH96        Keyslot = 0x1B
	KeyslotNCCH70        Keyslot = 0x25
	KeyslotNCCH          Keyslot = 0x2C
	KeyslotCMACSDNAND    Keyslot = 0x30
	KeyslotSD            Keyslot = 0x34
	KeyslotDSiWareExport Keyslot = 0x3A
	KeyslotCommonKey     Keyslot = 0x3D
	KeyslotDecTitlekey   Keyslot = 0x40 // convention-only: titlekey store, not a real hardware slot
)

// key128 is a 128-bit value stored big-endian, matching the wire/ABI
// representation used throughout the 3DS crypto subsystem.
type key128 [16]byte

// entry is one keyslot's key state. X and Y are optional (present tracked
// via the *Set bool); normal is recomputed whenever both are present.
type entry struct {
	x, y         key128
	xSet, ySet   bool
	normal       key128
	normalSet    bool
}

// Engine is one process-scoped (or test-scoped) keyslot table plus the
// bootROM-derived state needed to populate it. The zero value is not usable;
// construct with NewEngine.
//
// An Engine is safe for concurrent read access once setup (bootROM
// ingestion, ticket load, SD key load) has completed; setup itself is not
// safe for concurrent use, matching the single-threaded install orchestrator
// described by the install package.
type Engine struct {
	slots [NumKeyslots + 1]entry // the extra entry is KeyslotDecTitlekey

	extdataOTP    [0x24]byte
	extdataKeygen [0x200]byte
	otpKey        [16]byte
	otpIV         [16]byte
	haveBootrom   bool
}

// NewEngine returns an Engine with no keys loaded. Callers must call
// IngestBootrom, IngestTicket, and/or SetupSDKey before using any cipher
// that depends on those keyslots.
func NewEngine() *Engine {
	return &Engine{}
}

// SetKeyX sets the KeyX half of slot s and recomputes the normal key if
// KeyY is already present.
func (e *Engine) SetKeyX(s Keyslot, x []byte) {
	sl := &e.slots[s]
	copy(sl.x[:], x)
	sl.xSet = true
	e.recompute(s)
}

// SetKeyY sets the KeyY half of slot s and recomputes the normal key if
// KeyX is already present.
func (e *Engine) SetKeyY(s Keyslot, y []byte) {
	sl := &e.slots[s]
	copy(sl.y[:], y)
	sl.ySet = true
	e.recompute(s)
}

// SetNormalKey sets the normal key of slot s directly, bypassing the
// scrambler. Used for the decrypted-titlekey slot, which the console treats
// as a plain key store rather than a scrambled keyslot.
func (e *Engine) SetNormalKey(s Keyslot, key []byte) {
	sl := &e.slots[s]
	copy(sl.normal[:], key)
	sl.normalSet = true
}

func (e *Engine) recompute(s Keyslot) {
	sl := &e.slots[s]
	if !sl.xSet || !sl.ySet {
		return
	}
	sl.normal = scramble(s, sl.x, sl.y)
	sl.normalSet = true
}

// NormalKey returns the current normal key for slot s, or ErrKeyslotMissing
// if it has not been derived yet.
func (e *Engine) NormalKey(s Keyslot) ([]byte, error) {
	sl := &e.slots[s]
	if !sl.normalSet {
		return nil, wrapKeyslot(s, ErrKeyslotMissing)
	}
	out := make([]byte, 16)
	copy(out, sl.normal[:])
	return out, nil
}

// scramble derives the normal key for a slot from its KeyX/KeyY halves,
// picking the 3DS or DSi scrambler variant by slot number (spec §4.1).
func scramble(s Keyslot, x, y key128) key128 {
	if s < KeyslotTWLNAND+1 {
		return keygenTWL(x, y)
	}
	return keygen3DS(x, y)
}

// keygen3DS implements:
//
//	normal = ROL128( (ROL128(X, 2) XOR Y) + 0x1FF9E9AAC5FE0408024591DC5D52768A, 87 )
func keygen3DS(x, y key128) key128 {
	var c key128
	c[0] = 0x1F
	c[1] = 0xF9
	c[2] = 0xE9
	c[3] = 0xAA
	c[4] = 0xC5
	c[5] = 0xFE
	c[6] = 0x04
	c[7] = 0x08
	c[8] = 0x02
	c[9] = 0x45
	c[10] = 0x91
	c[11] = 0xDC
	c[12] = 0x5D
	c[13] = 0x52
	c[14] = 0x76
	c[15] = 0x8A

	rx := rol128(x, 2)
	xored := xor128(rx, y)
	summed := add128(xored, c)
	return rol128(summed, 87)
}

// keygenTWL implements the DSi-family scrambler:
//
//	normal = ROL128( (X XOR Y) + 0xFFFEFB4E295902582A680F5F1A4F3E79, 42 )
func keygenTWL(x, y key128) key128 {
	var c key128
	c[0] = 0xFF
	c[1] = 0xFE
	c[2] = 0xFB
	c[3] = 0x4E
	c[4] = 0x29
	c[5] = 0x59
	c[6] = 0x02
	c[7] = 0x58
	c[8] = 0x2A
	c[9] = 0x68
	c[10] = 0x0F
	c[11] = 0x5F
	c[12] = 0x1A
	c[13] = 0x4F
	c[14] = 0x3E
	c[15] = 0x79

	xored := xor128(x, y)
	summed := add128(xored, c)
	return rol128(summed, 42)
}

// ROL128 rotates a big-endian 128-bit value left by n bits, wrapping
// circularly. Exported for direct testing against spec §8's test vector.
func ROL128(v [16]byte, n uint) [16]byte {
	return rol128(v, n)
}

func rol128(v key128, n uint) key128 {
	n %= 128
	if n == 0 {
		return v
	}

	// Treat v as two big-endian 64-bit limbs and rotate the 128-bit pair.
	hi := util.BEUint64(v[0:8])
	lo := util.BEUint64(v[8:16])

	if n < 64 {
		newHi := (hi << n) | (lo >> (64 - n))
		newLo := (lo << n) | (hi >> (64 - n))
		hi, lo = newHi, newLo
	} else {
		m := n - 64
		newHi := (lo << m) | (hi >> (64 - m))
		newLo := (hi << m) | (lo >> (64 - m))
		hi, lo = newHi, newLo
	}

	var out key128
	util.PutBE64(out[0:8], hi)
	util.PutBE64(out[8:16], lo)
	return out
}

func add128(a, b key128) key128 {
	var out key128
	var carry uint64
	for i := 15; i >= 0; i-- {
		sum := uint16(a[i]) + uint16(b[i]) + uint16(carry)
		out[i] = byte(sum)
		carry = uint64(sum >> 8)
	}
	return out
}

func xor128(a, b key128) key128 {
	var out key128
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}
