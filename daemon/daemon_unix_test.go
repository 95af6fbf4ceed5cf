//go:build !windows

package daemon

import (
	"os/exec"
	"testing"
)

func TestStopProcess_InvalidPID(t *testing.T) {
	if err := stopProcess("", 0); err == nil {
		t.Error("expected error for PID 0")
	}
}

func TestStopProcess_ExitedProcess(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("cannot run true: %v", err)
	}
	if err := stopProcess("", cmd.Process.Pid); err == nil {
		t.Error("expected error for a reaped process")
	}
}

func TestDetachedProcAttr(t *testing.T) {
	if attr := detachedProcAttr(); attr == nil || !attr.Setpgid {
		t.Error("expected the child to get its own process group")
	}
}
