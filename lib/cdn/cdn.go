// Package cdn reads CDN-style content directories: the layout Nintendo's
// content delivery network serves a title in, as opposed to the single-file
// CIA archive. A CDN directory holds a "tmd" file plus one file per content,
// named by the content's hex ID, each already in its final encrypted form
// with no outer CBC wrapper.
//
// https://www.3dbrew.org/wiki/NUS
package cdn

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ihaveamac/custom-install-go/lib/crypto"
	"github.com/ihaveamac/custom-install-go/lib/ncch"
	"github.com/ihaveamac/custom-install-go/lib/tmd"
)

// Section identifies one readable region of a CDN directory: a content
// index (matching a TMD Chunk Record's Index) or the fixed TMD section.
type Section int

const SectionTitleMetadata Section = -1

// CDN is a parsed CDN content directory.
type CDN struct {
	crypto          *crypto.Engine
	dir             string
	caseInsensitive bool

	TMD         *tmd.TMD
	ContentInfo []tmd.ChunkRecord
	Contents    map[uint16]*ncch.NCCH

	files map[uint16]string
}

// Open reads the TMD out of dir/tmd, matches it against the per-content
// files named by hex content ID, and, if loadContents is true, opens every
// content as an NCCH. Unlike a CIA's contents, CDN content files carry no
// outer CBC wrapper: each is read as a plain byte stream, handed straight to
// the NCCH reader.
func Open(dir string, caseInsensitive bool, eng *crypto.Engine, loadContents bool) (*CDN, error) {
	tmdBuf, err := os.ReadFile(filepath.Join(dir, "tmd"))
	if err != nil {
		return nil, fmt.Errorf("cdn: reading tmd: %w", err)
	}
	parsed, err := tmd.Load(tmdBuf, true)
	if err != nil {
		return nil, fmt.Errorf("cdn: %w", err)
	}

	c := &CDN{
		crypto:          eng,
		dir:             dir,
		caseInsensitive: caseInsensitive,
		TMD:             parsed,
		Contents:        map[uint16]*ncch.NCCH{},
		files:           map[uint16]string{},
	}

	for _, rec := range parsed.ChunkRecords {
		path, err := findContentFile(dir, rec.ID)
		if err != nil {
			return nil, err
		}
		c.files[rec.Index] = path
		c.ContentInfo = append(c.ContentInfo, rec)

		if loadContents {
			isSRL := rec.Index == 0 && isSRLTitle(parsed.TitleID)
			if !isSRL {
				n, err := ncch.Open(c.OpenRawSection(Section(rec.Index)), 0, caseInsensitive, eng, true)
				if err != nil {
					return nil, fmt.Errorf("cdn: opening content %d: %w", rec.Index, err)
				}
				c.Contents[rec.Index] = n
			}
		}
	}

	return c, nil
}

// isSRLTitle reports whether titleID's category nibbles mark it as a
// DSiWare/SRL title (category byte "48" within the 16-hex-digit ID).
func isSRLTitle(titleID uint64) bool {
	s := fmt.Sprintf("%016x", titleID)
	return s[3:5] == "48"
}

// findContentFile locates the on-disk file for a content ID, which Nintendo
// names as a lowercase 8-hex-digit string.
func findContentFile(dir string, contentID uint32) (string, error) {
	name := fmt.Sprintf("%08x", contentID)
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	upper := filepath.Join(dir, strings.ToUpper(name))
	if _, err := os.Stat(upper); err == nil {
		return upper, nil
	}
	return "", fmt.Errorf("cdn: content file %s: %w", name, ErrContentNotFound)
}

// GetData reads size bytes from section starting at offset, both relative
// to the section's own start.
func (c *CDN) GetData(section Section, offset, size int64) ([]byte, error) {
	if section == SectionTitleMetadata {
		buf, err := os.ReadFile(filepath.Join(c.dir, "tmd"))
		if err != nil {
			return nil, fmt.Errorf("cdn: reading tmd: %w", err)
		}
		if offset >= int64(len(buf)) {
			return nil, nil
		}
		end := offset + size
		if end > int64(len(buf)) {
			end = int64(len(buf))
		}
		return buf[offset:end], nil
	}

	path, ok := c.files[uint16(section)]
	if !ok {
		return nil, fmt.Errorf("cdn: unknown section %d: %w", section, ErrInvalidSection)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cdn: opening content file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("cdn: reading content file: %w", err)
	}
	return buf[:n], nil
}

type sectionReaderAt struct {
	c       *CDN
	section Section
}

func (s sectionReaderAt) ReadAt(p []byte, off int64) (int, error) {
	data, err := s.c.GetData(s.section, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	got := copy(p, data)
	if got < len(p) {
		return got, io.EOF
	}
	return got, nil
}

// OpenRawSection returns a random-access view of one content file (or the
// TMD, via SectionTitleMetadata). CDN content files are already in their
// final on-disk encrypted form, so this is a direct passthrough with no CBC
// decryption layer, unlike the equivalent CIA accessor.
func (c *CDN) OpenRawSection(section Section) io.ReaderAt {
	return sectionReaderAt{c: c, section: section}
}
