//go:build !unix

package runexec

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func terminateGroup(pid int) {
	killGroup(pid)
}

func killGroup(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}

func maxRSSKiB(*os.ProcessState) int64 { return 0 }

func signalName(*os.ProcessState) string { return "" }
