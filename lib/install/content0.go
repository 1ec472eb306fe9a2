package install

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ihaveamac/custom-install-go/lib/crypto"
	"github.com/ihaveamac/custom-install-go/lib/exefs"
	"github.com/ihaveamac/custom-install-go/lib/ncch"
	"github.com/ihaveamac/custom-install-go/lib/smdh"
)

// content0Info is what the orchestrator needs out of a title's content 0,
// read with loadSections=false so a seed-using title never trips
// ncch.ErrSeedRequired before a seed has even been looked up: everything
// here (the header fields, ExtendedHeader storage info) lives on the
// Original NCCH keyslot regardless of uses_seed, per spec §4.3.
type content0Info struct {
	ncchVersion uint16
	productCode string
	extdataID   [4]byte
	usesSeed    bool
	programID   uint64
}

// openContent0 reads the fields install needs out of content 0. Callers
// skip it entirely for SRL titles, whose content 0 is a DSiWare blob, not
// an NCCH container.
func openContent0(r io.ReaderAt, caseInsensitive bool, eng *crypto.Engine) (*content0Info, *ncch.NCCH, error) {
	n, err := ncch.Open(r, 0, caseInsensitive, eng, false)
	if err != nil {
		return nil, nil, err
	}

	info := &content0Info{
		ncchVersion: n.Version,
		productCode: n.ProductCode,
		usesSeed:    n.Flags.UsesSeed,
		programID:   n.ProgramID,
	}

	buf := make([]byte, 4)
	if _, err := n.OpenRawSection(ncch.SectionExtendedHeader).ReadAt(buf, 0x200+0x30); err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("install: reading extdata id: %w", err)
	}
	copy(info.extdataID[:], buf)

	return info, n, nil
}

// resolveSeed looks up programID's seed in seedDBPath, required before a
// uses_seed title's own crypto can be unlocked on console. A title that
// uses seed crypto but has no matching seeddb entry cannot be installed in
// a usable state, so its absence is reported to the caller as fatal
// rather than silently continuing without it.
func resolveSeed(seedDBPath string, programID uint64) ([16]byte, error) {
	var out [16]byte
	if seedDBPath == "" {
		return out, ErrMissingSeed
	}
	f, err := os.Open(seedDBPath)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrMissingSeed, err)
	}
	defer f.Close()

	seed, err := ncch.GetSeedFromSeedDB(f, programID)
	if err != nil {
		if errors.Is(err, ncch.ErrSeedNotFound) {
			return out, ErrMissingSeed
		}
		return out, fmt.Errorf("install: reading seeddb: %w", err)
	}
	copy(out[:], seed)
	return out, nil
}

// titleIconName loads content 0's icon (if present) to get the English
// short description used for progress logging. It is best-effort: any
// failure, including a uses_seed content whose ExeFS cannot be read
// without a seed, just means no friendly name is available.
func titleIconName(n *ncch.NCCH) string {
	if n == nil || n.Flags.UsesSeed {
		return ""
	}
	if err := n.LoadSections(); err != nil {
		return ""
	}
	if n.ExeFS == nil {
		return ""
	}
	entry, ok := n.ExeFS.Find("icon")
	if !ok {
		return ""
	}
	data, err := n.GetData(ncch.SectionExeFS, exefs.HeaderSize+entry.Offset, entry.Size)
	if err != nil || len(data) < smdh.Size {
		return ""
	}
	s, err := smdh.Load(data[:smdh.Size])
	if err != nil {
		return ""
	}
	return s.Title().ShortDescription
}
