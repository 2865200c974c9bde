//go:build windows

package detector

import (
	"context"
	"os/exec"
)

func shellCommand(ctx context.Context, script string) *exec.Cmd {
	if script == "" {
		script = "rem"
	}
	// #nosec G204
	return exec.CommandContext(ctx, "cmd", "/C", script)
}
