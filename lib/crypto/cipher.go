package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

// CTRReader is a random-access AES-CTR stream over an underlying file,
// implementing spec §4.1 "Random-access CTR": every ReadAt re-derives the
// counter from the target offset rather than assuming sequential access,
// so concurrent or out-of-order reads at arbitrary offsets are correct.
//
// DSi-family keyslots (< 4) apply a per-block byte-reversal wrapper before
// and after the cipher call, matching a hardware endianness quirk.
type CTRReader struct {
	inner   io.ReaderAt
	block   cipher.Block
	base    key128
	dsiWrap bool
}

// NewCTRReader builds a random-access CTR reader over inner, using
// slot's current normal key and counterBase as the block-0 counter value.
func NewCTRReader(e *Engine, slot Keyslot, counterBase [16]byte, inner io.ReaderAt) (*CTRReader, error) {
	key, err := e.NormalKey(slot)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &CTRReader{
		inner:   inner,
		block:   block,
		base:    counterFromIV(counterBase),
		dsiWrap: slot < 4,
	}, nil
}

// ReadAt decrypts len(p) bytes of ciphertext read from the underlying file
// at off, positioning the CTR counter as if the stream had been decrypted
// from the start.
func (r *CTRReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.inner.ReadAt(p, off)
	if n > 0 {
		r.crypt(p[:n], off)
	}
	return n, err
}

// crypt XORs the CTR keystream into buf in place, where buf holds bytes
// starting at file offset off.
func (r *CTRReader) crypt(buf []byte, off int64) {
	blockOff := off &^ 0xF
	skip := int(off - blockOff)
	counter := counterPlus(r.base, uint64(blockOff)/16)

	stream := cipher.NewCTR(wrapBlock(r.block, r.dsiWrap), counter[:])
	if skip > 0 {
		dummy := make([]byte, skip)
		stream.XORKeyStream(dummy, dummy)
	}
	stream.XORKeyStream(buf, buf)
}

// dsiBlock wraps a cipher.Block with the per-call 16-byte reversal used by
// DSi-family keyslots (spec §4.1: "reverse each 16-byte block before and
// after the raw cipher call").
type dsiBlock struct {
	inner cipher.Block
}

func wrapBlock(b cipher.Block, wrap bool) cipher.Block {
	if !wrap {
		return b
	}
	return dsiBlock{inner: b}
}

func (d dsiBlock) BlockSize() int { return d.inner.BlockSize() }

func (d dsiBlock) Encrypt(dst, src []byte) {
	rev := reverseBytes(src)
	out := make([]byte, len(rev))
	d.inner.Encrypt(out, rev)
	copy(dst, reverseBytes(out))
}

func (d dsiBlock) Decrypt(dst, src []byte) {
	rev := reverseBytes(src)
	out := make([]byte, len(rev))
	d.inner.Decrypt(out, rev)
	copy(dst, reverseBytes(out))
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// CBCReader is a random-access, read-only AES-CBC stream over an underlying
// file (spec §4.1 "Random-access CBC (read-only)"). Writes are not
// supported: CBC mode has no meaningful random-access write semantics
// without rewriting every following block, and nothing in the install
// pipeline writes CBC-encrypted regions.
type CBCReader struct {
	inner  io.ReaderAt
	key    []byte
	regIV  [16]byte
	size   int64
}

// NewCBCReader builds a random-access CBC reader over inner, using slot's
// current normal key, a region IV, and the total size of the plaintext
// region (used to bound trailing reads).
func NewCBCReader(e *Engine, slot Keyslot, regionIV [16]byte, size int64, inner io.ReaderAt) (*CBCReader, error) {
	key, err := e.NormalKey(slot)
	if err != nil {
		return nil, err
	}
	return &CBCReader{inner: inner, key: key, regIV: regionIV, size: size}, nil
}

// ReadAt decrypts n = len(p) bytes starting at logical offset off within
// the region.
func (r *CBCReader) ReadAt(p []byte, off int64) (int, error) {
	n := int64(len(p))
	if off >= r.size {
		return 0, io.EOF
	}
	if off+n > r.size {
		n = r.size - off
	}

	blockOff := off &^ 0xF
	before := off - blockOff
	total := (before + n + 15) &^ 0xF

	var iv [16]byte
	if blockOff == 0 {
		iv = r.regIV
	} else {
		// IV for any block after the first is the preceding ciphertext
		// block; seek back one block to fetch it.
		ivBuf := make([]byte, 16)
		if _, err := r.inner.ReadAt(ivBuf, blockOff-16); err != nil {
			return 0, fmt.Errorf("cbc: reading iv block: %w", err)
		}
		copy(iv[:], ivBuf)
	}

	ciphertext := make([]byte, total)
	if _, err := r.inner.ReadAt(ciphertext, blockOff); err != nil && err != io.EOF {
		return 0, fmt.Errorf("cbc: reading ciphertext: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return 0, err
	}
	plain := make([]byte, total)
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(plain, ciphertext)

	copy(p[:n], plain[before:before+n])
	return int(n), nil
}

// CMAC computes the full untruncated 16-byte AES-CMAC of msg under slot's
// current normal key (spec §4.1 "CMAC").
func (e *Engine) CMAC(slot Keyslot, msg []byte) ([]byte, error) {
	key, err := e.NormalKey(slot)
	if err != nil {
		return nil, err
	}
	return aesCMAC(key, msg)
}

func aesCMAC(key, msg []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	k1, k2 := cmacSubkeys(block)

	n := (len(msg) + 15) / 16
	if n == 0 {
		n = 1
	}
	lastComplete := len(msg) != 0 && len(msg)%16 == 0

	last := make([]byte, 16)
	if lastComplete {
		copy(last, msg[(n-1)*16:])
		xorBlock16(last, last, k1)
	} else {
		remain := len(msg) - (n-1)*16
		if remain > 0 {
			copy(last, msg[(n-1)*16:])
		}
		last[remain] = 0x80
		xorBlock16(last, last, k2)
	}

	x := make([]byte, 16)
	y := make([]byte, 16)
	for i := 0; i < n-1; i++ {
		start := i * 16
		xorBlock16(y, x, msg[start:start+16])
		block.Encrypt(x, y)
	}
	xorBlock16(y, x, last)
	block.Encrypt(x, y)
	return x, nil
}

func cmacSubkeys(block cipher.Block) (k1, k2 []byte) {
	const rb = 0x87
	zero := make([]byte, 16)
	l := make([]byte, 16)
	block.Encrypt(l, zero)

	k1 = make([]byte, 16)
	leftShift1(k1, l)
	if l[0]&0x80 != 0 {
		k1[15] ^= rb
	}

	k2 = make([]byte, 16)
	leftShift1(k2, k1)
	if k1[0]&0x80 != 0 {
		k2[15] ^= rb
	}
	return k1, k2
}

func leftShift1(dst, src []byte) {
	var carry byte
	for i := len(src) - 1; i >= 0; i-- {
		b := src[i]
		dst[i] = (b << 1) | carry
		carry = (b >> 7) & 1
	}
}

func xorBlock16(dst, a, b []byte) {
	for i := 0; i < 16; i++ {
		dst[i] = a[i] ^ b[i]
	}
}
