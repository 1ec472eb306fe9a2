//go:build !windows

package install

import "os/exec"

// applySpawnOptions is a no-op outside Windows: only Windows needs the
// "no console window" flag when launching save3ds_fuse from a GUI.
func applySpawnOptions(cmd *exec.Cmd) {}
