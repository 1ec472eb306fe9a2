// Package install implements the custom title installer: given a set of
// CIA files or CDN directories, it writes their contents to an SD card's
// `Nintendo 3DS/<id0>/<id1>/title/...` tree in the console's own format,
// builds a CMD and Title Info Entry for each, and imports them into the
// console's title database through save3ds_fuse.
package install

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/ihaveamac/custom-install-go/internal/util"
	"github.com/ihaveamac/custom-install-go/lib/crypto"
	"github.com/ihaveamac/custom-install-go/lib/finishjournal"
	"github.com/ihaveamac/custom-install-go/lib/tmd"
)

// Config is everything the installer needs before it can process any
// title: console-unique key material, the SD card to write to, and the
// external save3ds_fuse binary used for the final database import.
type Config struct {
	Boot9Path      string
	MovableSedPath string
	SeedDBPath     string // optional; required only for uses_seed titles
	SDRoot         string
	Dev            bool

	CaseInsensitive bool
	OverwriteSaves  bool

	Save3DSFusePath     string
	CIFinishPath        string // defaults to <SDRoot>/cifinish.bin
	FinalizeSidecarPath string // optional custom-install-finalize.3dsx source
}

// Installer holds the key material derived once from Config and reused
// across every title in a batch.
type Installer struct {
	cfg Config
	eng *crypto.Engine
	id0 [16]byte
}

// New sets up an Installer's crypto engine from boot9 and movable.sed.
func New(cfg Config) (*Installer, error) {
	boot9, err := os.ReadFile(cfg.Boot9Path)
	if err != nil {
		return nil, fmt.Errorf("install: reading boot9: %w", err)
	}
	movable, err := os.ReadFile(cfg.MovableSedPath)
	if err != nil {
		return nil, fmt.Errorf("install: reading movable.sed: %w", err)
	}

	eng := crypto.NewEngine()
	if err := eng.IngestBootrom(boot9, cfg.Dev); err != nil {
		return nil, fmt.Errorf("install: %w", err)
	}
	id0, err := eng.SetupSDKey(movable)
	if err != nil {
		return nil, fmt.Errorf("install: %w", err)
	}

	return &Installer{cfg: cfg, eng: eng, id0: id0}, nil
}

// Result summarizes a completed batch.
type Result struct {
	Installed     []uint64 // Title IDs successfully staged
	SidecarCopied bool
	Errors        error // per-title failures, nil if every title succeeded
}

// sdTitlePath locates <SDRoot>/Nintendo 3DS/<id0>/<id1>, requiring exactly
// one id1 directory to exist (spec §4.8 step 1).
func (in *Installer) sdTitlePath() (string, error) {
	id0Hex := fmt.Sprintf("%x", in.id0[:])
	base := filepath.Join(in.cfg.SDRoot, "Nintendo 3DS", id0Hex)

	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSDPathError, err)
	}

	var id1s []string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) == 32 {
			id1s = append(id1s, e.Name())
		}
	}
	if len(id1s) != 1 {
		return "", fmt.Errorf("%w: found %d id1 directories under %s", ErrSDPathError, len(id1s), base)
	}
	return filepath.Join(base, id1s[0]), nil
}

func isSRLTitle(titleID uint64) bool {
	s := fmt.Sprintf("%016x", titleID)
	return s[3:5] == "48"
}

func isDLCTitle(tidHigh string) bool {
	return tidHigh == "0004008c"
}

func hasContentIndex(contents []tmd.ChunkRecord, index uint16) bool {
	for _, c := range contents {
		if c.Index == index {
			return true
		}
	}
	return false
}

// Install processes every path in order, writing successfully-parsed
// titles to the SD card and accumulating per-title failures rather than
// aborting the batch (spec §7's propagation policy). Structural failures
// that make the whole batch meaningless -- the SD path not resolving, or
// save3ds_fuse itself failing -- are returned directly.
func (in *Installer) Install(paths []string, sink ProgressSink) (*Result, error) {
	if sink == nil {
		sink = NopSink{}
	}

	if _, err := os.Stat(in.cfg.Save3DSFusePath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSave3DSFuseNotFound, in.cfg.Save3DSFusePath)
	}

	sdPath, err := in.sdTitlePath()
	if err != nil {
		return nil, err
	}

	cifinishPath := in.cfg.CIFinishPath
	if cifinishPath == "" {
		cifinishPath = filepath.Join(in.cfg.SDRoot, "cifinish.bin")
	}
	cifinishData, err := finishjournal.Load(cifinishPath)
	if err != nil {
		return nil, fmt.Errorf("install: %w", err)
	}

	result := &Result{}
	var errs *multierror.Error
	titleInfoEntries := map[string][]byte{}

	for idx, path := range paths {
		sink.OnCIAStart(idx)

		titleID, res, err := in.processTitle(sdPath, path, sink)
		if err != nil {
			wrapped := fmt.Errorf("%s: %w", path, err)
			errs = multierror.Append(errs, wrapped)
			sink.OnError(wrapped)
			continue
		}

		titleInfoEntries[fmt.Sprintf("%016x", titleID)] = res.titleInfo
		cifinishData[titleID] = res.journal
		result.Installed = append(result.Installed, titleID)
	}

	if err := finishjournal.Save(cifinishPath, cifinishData); err != nil {
		return nil, fmt.Errorf("install: saving cifinish.bin: %w", err)
	}

	if len(titleInfoEntries) > 0 {
		sink.OnLog("Extracting Title Database...")
		if err := importTitleInfoEntries(in.cfg.Save3DSFusePath, in.cfg.Boot9Path, in.cfg.MovableSedPath, in.cfg.SDRoot, titleInfoEntries); err != nil {
			return result, err
		}
		sink.OnLog("Imported into Title Database.")

		if in.cfg.FinalizeSidecarPath != "" {
			copied, err := copyFinalizeSidecar(in.cfg.FinalizeSidecarPath, in.cfg.SDRoot)
			if err != nil {
				sink.OnError(fmt.Errorf("install: copying finalize sidecar: %w", err))
			}
			result.SidecarCopied = copied
		}
	}

	result.Errors = errs.ErrorOrNil()
	return result, nil
}

// titleResult is one title's two database-facing artifacts.
type titleResult struct {
	titleInfo []byte
	journal   finishjournal.Entry
}

// processTitle runs the full per-title pipeline (spec §4.8 steps 2-9).
func (in *Installer) processTitle(sdPath, path string, sink ProgressSink) (uint64, *titleResult, error) {
	reader, err := OpenReader(path, in.cfg.CaseInsensitive, in.cfg.Dev, in.eng)
	if err != nil {
		return 0, nil, err
	}
	defer reader.Close()

	t := reader.Title()
	contentInfo := reader.ContentInfo()
	titleIDHex := fmt.Sprintf("%016x", t.TitleID)
	tidHigh, tidLow := titleIDHex[0:8], titleIDHex[8:16]

	var content0 *content0Info
	if !isSRLTitle(t.TitleID) {
		info, n, err := openContent0(reader.OpenContent(0), in.cfg.CaseInsensitive, in.eng)
		if err != nil {
			return 0, nil, fmt.Errorf("reading content 0: %w", err)
		}
		content0 = info
		if name := titleIconName(n); name != "" {
			sink.OnLog("Installing " + name + "...")
		} else {
			sink.OnLog("Installing...")
		}
	} else {
		sink.OnLog("Installing...")
	}

	sizes := []int64{1, 1, 1, 1, 1}
	if t.SaveSize > 0 {
		sizes = append(sizes, 1, int64(t.SaveSize))
	}
	for _, rec := range contentInfo {
		sizes = append(sizes, int64(rec.Size))
	}
	var titleSize int64
	for _, s := range sizes {
		titleSize += util.Roundup(s, titleAlignSize)
	}

	isDLC := isDLCTitle(tidHigh)
	hasManual := !isDLC && hasContentIndex(contentInfo, 1)
	cmdID := uint32(1)
	if isDLC {
		cmdID = uint32(len(contentInfo))
	}

	var extdataID [4]byte
	var ncchVersion uint16
	var productCode string
	if content0 != nil {
		extdataID = content0.extdataID
		ncchVersion = content0.ncchVersion
		productCode = content0.productCode
	}

	titleRootFS := filepath.Join(sdPath, "title", tidHigh, tidLow)
	contentRootFS := filepath.Join(titleRootFS, "content")
	titleRootCMD := "/title/" + tidHigh + "/" + tidLow
	contentRootCMD := titleRootCMD + "/content"

	if err := os.MkdirAll(filepath.Join(contentRootFS, "cmd"), 0755); err != nil {
		return 0, nil, fmt.Errorf("creating content directory: %w", err)
	}
	if t.SaveSize > 0 {
		if err := os.MkdirAll(filepath.Join(titleRootFS, "data"), 0755); err != nil {
			return 0, nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	if isDLC {
		dirCount := ((len(contentInfo) - 1) / 256) + 1
		for x := 0; x < dirCount; x++ {
			if err := os.MkdirAll(filepath.Join(contentRootFS, fmt.Sprintf("%08x", x)), 0755); err != nil {
				return 0, nil, fmt.Errorf("creating dlc directory: %w", err)
			}
		}
	}

	tmdEncPath := contentRootCMD + "/00000000.tmd"
	sink.OnLog(fmt.Sprintf("Writing %s...", tmdEncPath))
	if err := writeEncryptedFile(in.eng, tmdEncPath, filepath.Join(contentRootFS, "00000000.tmd"), t.Bytes()); err != nil {
		return 0, nil, fmt.Errorf("writing tmd: %w", err)
	}

	for _, rec := range contentInfo {
		contentFilename := fmt.Sprintf("%08x.app", rec.ID)
		var encPath, outPath string
		if isDLC {
			dirIndex := fmt.Sprintf("%08x", rec.Index/256)
			encPath = contentRootCMD + "/" + dirIndex + "/" + contentFilename
			outPath = filepath.Join(contentRootFS, dirIndex, contentFilename)
		} else {
			encPath = contentRootCMD + "/" + contentFilename
			outPath = filepath.Join(contentRootFS, contentFilename)
		}

		sink.OnLog(fmt.Sprintf("Writing %s...", encPath))
		src := reader.OpenContent(rec.Index)
		err := copyEncryptedContent(in.eng, encPath, outPath, src, int64(rec.Size), func(done, total int64) {
			percent := 100.0
			if total > 0 {
				percent = float64(done) / float64(total) * 100
			}
			sink.OnProgress(percent, done, total)
		})
		if err != nil {
			return 0, nil, fmt.Errorf("writing content %d: %w", rec.Index, err)
		}
	}

	if t.SaveSize > 0 {
		encPath := titleRootCMD + "/data/00000001.sav"
		outPath := filepath.Join(titleRootFS, "data", "00000001.sav")
		if in.cfg.OverwriteSaves || !fileExists(outPath) {
			sink.OnLog(fmt.Sprintf("Generating blank save at %s...", encPath))
			if err := writeBlankSave(in.eng, encPath, outPath, int64(t.SaveSize)); err != nil {
				return 0, nil, fmt.Errorf("writing save: %w", err)
			}
		} else {
			sink.OnLog(fmt.Sprintf("Not overwriting existing save at %s", encPath))
		}
	}

	cmdFilename := fmt.Sprintf("%08x.cmd", cmdID)
	cmdEncPath := contentRootCMD + "/cmd/" + cmdFilename
	sink.OnLog(fmt.Sprintf("Generating %s", cmdEncPath))
	cmdBytes, err := buildCMD(in.eng, cmdID, contentInfo, reader.OpenContent)
	if err != nil {
		return 0, nil, fmt.Errorf("building cmd: %w", err)
	}
	if err := writeEncryptedFile(in.eng, cmdEncPath, filepath.Join(contentRootFS, "cmd", cmdFilename), cmdBytes); err != nil {
		return 0, nil, fmt.Errorf("writing cmd: %w", err)
	}

	titleInfo := buildTitleInfoEntry(titleSize, uint16(t.Version), ncchVersion, hasManual, t.SaveSize > 0, cmdID, extdataID, productCode)

	var seed *[16]byte
	if content0 != nil && content0.usesSeed {
		s, err := resolveSeed(in.cfg.SeedDBPath, content0.programID)
		if err != nil {
			return 0, nil, err
		}
		seed = &s
	}

	return t.TitleID, &titleResult{
		titleInfo: titleInfo,
		journal:   finishjournal.Entry{TitleID: t.TitleID, Seed: seed},
	}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
