package install

import (
	"encoding/binary"
	"math/rand"

	"github.com/ihaveamac/custom-install-go/internal/util"
)

const titleInfoEntrySize = 0x80

// titleAlignSize is the rounding granularity for every addend that makes
// up a title's size in its Title Info Entry (spec §4.8 step 2).
const titleAlignSize = 0x8000

// buildTitleInfoEntry assembles the 0x80-byte record save3ds_fuse imports
// into the console's title database (spec §4.8 step 8).
func buildTitleInfoEntry(titleSize int64, titleVersion, ncchVersion uint16, hasManual, hasSave bool, cmdID uint32, extdataID [4]byte, productCode string) []byte {
	e := make([]byte, titleInfoEntrySize)

	binary.LittleEndian.PutUint64(e[0x00:0x08], uint64(titleSize))
	binary.LittleEndian.PutUint32(e[0x08:0x0C], 0x40)
	binary.LittleEndian.PutUint16(e[0x0C:0x0E], titleVersion)
	binary.LittleEndian.PutUint16(e[0x0E:0x10], ncchVersion)
	if hasManual {
		binary.LittleEndian.PutUint32(e[0x10:0x14], 1)
	}
	binary.LittleEndian.PutUint32(e[0x14:0x18], 0) // tmd content id, always 0
	binary.LittleEndian.PutUint32(e[0x18:0x1C], cmdID)
	if hasSave {
		binary.LittleEndian.PutUint32(e[0x1C:0x20], 1)
	}
	copy(e[0x20:0x24], extdataID[:])
	// e[0x24:0x28] reserved, zero
	binary.LittleEndian.PutUint64(e[0x28:0x30], 0x100000000)
	copy(e[0x30:0x40], []byte(productCode))
	// e[0x40:0x50] reserved, zero
	binary.LittleEndian.PutUint32(e[0x50:0x54], rand.Uint32())
	// e[0x54:0x80] reserved, zero

	return e
}
