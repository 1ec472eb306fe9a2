package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"unicode/utf16"
)

// PathToIV implements spec §4.1 "Path-to-IV": it turns a logical SD path
// into the 128-bit CTR counter base used to encrypt/decrypt the file at
// that path.
//
// The path is lowercased; a `/backup/...` path longer than 28 characters is
// rewritten to `/title/<upper8>/<lower8>/data<rest>`, where the two 8-hex
// parts are taken from positions 12-20 and 20-28 of the original
// (lowercased) path. The counter base is then the XOR of the first and
// second halves of SHA-256(UTF-16LE(path) || "\0\0"), each read as a
// big-endian 128-bit integer.
func PathToIV(path string) [16]byte {
	p := strings.ToLower(path)
	if strings.HasPrefix(p, "/backup/") && len(p) > 28 {
		upper := p[12:20]
		lower := p[20:28]
		p = "/title/" + upper + "/" + lower + "/data" + p[28:]
	}

	units := utf16.Encode([]rune(p))
	buf := make([]byte, 0, len(units)*2+2)
	for _, u := range units {
		buf = append(buf, byte(u), byte(u>>8))
	}
	buf = append(buf, 0, 0)

	sum := sha256.Sum256(buf)

	var iv [16]byte
	for i := 0; i < 16; i++ {
		iv[i] = sum[i] ^ sum[i+16]
	}
	return iv
}

// counterFromIV reinterprets a 16-byte IV as a big-endian 128-bit counter
// base, for use with counterPlus.
func counterFromIV(iv [16]byte) key128 {
	return key128(iv)
}

func counterPlus(base key128, blocks uint64) key128 {
	var add key128
	binary.BigEndian.PutUint64(add[8:], blocks)
	return add128(base, add)
}
