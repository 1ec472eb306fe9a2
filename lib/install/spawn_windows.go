//go:build windows

package install

import (
	"os/exec"
	"syscall"
)

// createNoWindow is CREATE_NO_WINDOW, suppressing the console window a
// plain exec.Command would otherwise pop up when launched from a GUI.
const createNoWindow = 0x08000000

func applySpawnOptions(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNoWindow}
}
