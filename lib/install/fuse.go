package install

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// runSave3DSFuse invokes the save3ds_fuse binary once with the given
// trailing mode flag (-x to extract the title database, -i to import it
// back), sharing the common arguments every invocation needs.
func runSave3DSFuse(binPath, boot9Path, movablePath, sdRoot, tempDir, mode string) error {
	args := []string{
		"-b", boot9Path,
		"-m", movablePath,
		"--sd", sdRoot,
		"--db", "sdtitle",
		tempDir,
		mode,
	}
	cmd := exec.Command(binPath, args...)
	applySpawnOptions(cmd)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrSave3DSFuseFailed, mode, out.String())
	}
	return nil
}

// importTitleInfoEntries extracts the console's sdtitle database into a
// temporary directory, writes one file per newly-installed title (named
// by its 16-hex-digit Title ID, spec §4.8 step 8), and imports the
// directory back.
func importTitleInfoEntries(binPath, boot9Path, movablePath, sdRoot string, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}

	tempDir, err := os.MkdirTemp("", "custom-install-go-*")
	if err != nil {
		return fmt.Errorf("install: creating temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	if err := runSave3DSFuse(binPath, boot9Path, movablePath, sdRoot, tempDir, "-x"); err != nil {
		return err
	}

	for titleID, entry := range entries {
		if err := os.WriteFile(filepath.Join(tempDir, titleID), entry, 0644); err != nil {
			return fmt.Errorf("install: writing title info entry %s: %w", titleID, err)
		}
	}

	return runSave3DSFuse(binPath, boot9Path, movablePath, sdRoot, tempDir, "-i")
}

// copyFinalizeSidecar copies the finalize homebrew program to the SD
// card's /3ds directory, if srcPath exists. It is never fatal: a missing
// finalize program just means the caller has to fetch it separately.
func copyFinalizeSidecar(srcPath, sdRoot string) (bool, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer src.Close()

	destDir := filepath.Join(sdRoot, "3ds")
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return false, err
	}
	destPath := filepath.Join(destDir, filepath.Base(srcPath))
	dst, err := os.Create(destPath)
	if err != nil {
		return false, err
	}
	defer dst.Close()

	if _, err := dst.ReadFrom(src); err != nil {
		return false, err
	}
	return true, nil
}
