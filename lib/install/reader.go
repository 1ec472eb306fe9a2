package install

import (
	"fmt"
	"io"
	"os"

	"github.com/ihaveamac/custom-install-go/lib/cdn"
	"github.com/ihaveamac/custom-install-go/lib/cia"
	"github.com/ihaveamac/custom-install-go/lib/crypto"
	"github.com/ihaveamac/custom-install-go/lib/tmd"
)

// Reader is the shape the install orchestrator needs from either a CIA
// file or a CDN directory: a loaded TMD, the active Chunk Records, and
// random access to each content's still-NCCH-encrypted byte stream (the
// same bytes a CIA's outer CBC layer, or a CDN's plain file, yields).
//
// Unlike cia.Open/cdn.Open's own loadContents option, Reader never parses
// contents as NCCH containers: install only ever needs raw ciphertext
// (for copying and CMAC) and, for content 0, a handful of header fields
// that install.go reads itself with loadSections=false, since a seed-using
// title would otherwise fail to open at all before a seed has even been
// looked up.
type Reader interface {
	Title() *tmd.TMD
	ContentInfo() []tmd.ChunkRecord
	OpenContent(index uint16) io.ReaderAt
	Close() error
}

type ciaReader struct {
	f *os.File
	c *cia.CIA
}

func (r *ciaReader) Title() *tmd.TMD               { return r.c.TMD }
func (r *ciaReader) ContentInfo() []tmd.ChunkRecord { return r.c.ContentInfo }
func (r *ciaReader) OpenContent(index uint16) io.ReaderAt {
	return r.c.OpenRawSection(cia.Section(index))
}
func (r *ciaReader) Close() error { return r.f.Close() }

type cdnReader struct {
	c *cdn.CDN
}

func (r *cdnReader) Title() *tmd.TMD               { return r.c.TMD }
func (r *cdnReader) ContentInfo() []tmd.ChunkRecord { return r.c.ContentInfo }
func (r *cdnReader) OpenContent(index uint16) io.ReaderAt {
	return r.c.OpenRawSection(cdn.Section(index))
}
func (r *cdnReader) Close() error { return nil }

// OpenReader opens path as a CDN directory (if it is a directory) or a CIA
// file. Contents are never eagerly parsed as NCCH containers here.
func OpenReader(path string, caseInsensitive, dev bool, eng *crypto.Engine) (Reader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("install: %s: %w", path, err)
	}

	if info.IsDir() {
		c, err := cdn.Open(path, caseInsensitive, eng, false)
		if err != nil {
			return nil, fmt.Errorf("install: opening cdn directory %s: %w", path, err)
		}
		return &cdnReader{c: c}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("install: %s: %w", path, err)
	}
	c, err := cia.Open(f, 0, caseInsensitive, dev, eng, false)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("install: opening cia %s: %w", path, err)
	}
	return &ciaReader{f: f, c: c}, nil
}
