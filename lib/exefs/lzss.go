package exefs

import (
	"encoding/binary"
	"fmt"
)

// decompressCode implements the backward-LZSS scheme used for a 3DS
// `.code` ExeFS entry (spec §4.4). The footer (the trailing 8 bytes) holds
// a packed "offset/size" word and an "additional size" word. `code_comp_size`
// need not span the whole buffer: when it's smaller than `len(code)`, the
// leading `len(code) - code_comp_size` bytes are an uncompressed prefix that
// the backward walk must never touch, so the floor both pointers walk down
// to is `compStart = len(code) - code_comp_size`, not 0. The compressed tail
// is walked backward from `code_comp_end`, expanding literal bytes and
// back-reference segments into a buffer that grows to `len(code) + add_size`.
func decompressCode(code []byte) ([]byte, error) {
	if len(code) < 8 {
		return nil, fmt.Errorf("exefs: .code shorter than footer: %w", ErrCodeDecompression)
	}

	n := len(code)
	offSizeComp := binary.LittleEndian.Uint32(code[n-8 : n-4])
	addSize := binary.LittleEndian.Uint32(code[n-4 : n])

	compSize := int(offSizeComp & 0xFFFFFF)
	headerLen := int((offSizeComp >> 24) % 0xFF)
	compEnd := compSize - headerLen
	decSize := n + int(addSize)

	if compSize > n {
		return nil, fmt.Errorf("exefs: .code compressed size exceeds buffer: %w", ErrCodeDecompression)
	}
	compStart := n - compSize

	if compEnd < 0 || compEnd > compSize {
		return nil, fmt.Errorf("exefs: .code compressed end out of range: %w", ErrCodeDecompression)
	}
	if decSize < n {
		return nil, fmt.Errorf("exefs: .code decompressed size smaller than input: %w", ErrCodeDecompression)
	}

	out := make([]byte, decSize)
	copy(out, code)

	dataEnd := compStart + decSize
	inPos := compStart + compEnd
	outPos := decSize

	for inPos > compStart && outPos > compStart {
		inPos--
		control := out[inPos]

		for bit := 7; bit >= 0; bit-- {
			if inPos <= compStart || outPos <= compStart {
				break
			}

			if control&(1<<uint(bit)) != 0 {
				inPos -= 2
				if inPos < compStart {
					return nil, fmt.Errorf("exefs: .code back-reference token out of range: %w", ErrCodeDecompression)
				}
				segCode := uint16(out[inPos]) | uint16(out[inPos+1])<<8
				segOff := int(segCode&0xFFF) + 2
				segLen := int((segCode>>12)&0xF) + 3

				if outPos-segLen < compStart {
					return nil, fmt.Errorf("exefs: .code back-reference underruns buffer: %w", ErrCodeDecompression)
				}
				if outPos+segOff >= dataEnd {
					return nil, fmt.Errorf("exefs: .code back-reference reads past end: %w", ErrCodeDecompression)
				}

				for i := 0; i < segLen; i++ {
					b := out[outPos+segOff]
					outPos--
					out[outPos] = b
				}
			} else {
				if outPos == compStart || inPos == compStart {
					return nil, fmt.Errorf("exefs: .code literal token out of range: %w", ErrCodeDecompression)
				}
				outPos--
				inPos--
				out[outPos] = out[inPos]
			}
		}
	}

	if inPos != compStart || outPos != compStart {
		return nil, fmt.Errorf("exefs: .code decompression did not consume exactly the compressed region: %w", ErrCodeDecompression)
	}

	return out, nil
}

// DecompressCode decompresses the `.code` entry's raw bytes and, if the
// result differs from the input (i.e. it actually was compressed),
// registers a synthetic ".code-decompressed" entry served from memory
// (spec §4.4, §9 "Synthetic file entries").
func (e *ExeFS) DecompressCode(raw []byte) error {
	dec, err := decompressCode(raw)
	if err != nil {
		return err
	}
	if len(dec) == len(raw) {
		return nil
	}
	e.Entries = append(e.Entries, Entry{
		Name:   codeDecompressedName,
		Offset: -1,
		Size:   int64(len(dec)),
		Data:   dec,
	})
	return nil
}
