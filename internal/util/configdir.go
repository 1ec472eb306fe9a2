package util

import (
	"os"
	"path/filepath"
	"runtime"
)

// ConfigDirs returns the platform-specific search path for 3DS support files
// (boot9.bin, movable.sed, seeddb.bin), most-specific first. It mirrors the
// locations custom-install's original implementation checks: an OS-specific
// application-support directory ahead of the two historical `.3ds`/`3ds`
// home-directory locations.
func ConfigDirs() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}

	var dirs []string
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			dirs = append(dirs, filepath.Join(appData, "3ds"))
		}
	case "darwin":
		if home != "" {
			dirs = append(dirs, filepath.Join(home, "Library", "Application Support", "3ds"))
		}
	}

	if home != "" {
		dirs = append(dirs, filepath.Join(home, ".3ds"), filepath.Join(home, "3ds"))
	}

	return dirs
}

// FindConfigFile searches ConfigDirs for name, returning the first existing
// match. It returns "" if no directory has the file.
func FindConfigFile(name string) string {
	for _, dir := range ConfigDirs() {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}
