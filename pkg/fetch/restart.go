package fetch

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Restarter restarts one externally-managed service unit after an install.
// Restart failures are reported by the engine but never roll back an
// installed image: the content is valid, and the restart can be retried
// independently.
type Restarter interface {
	Restart(ctx context.Context, unit string) error
}

// SystemdRestarter restarts units by invoking systemctl.
type SystemdRestarter struct{}

// Restart runs "systemctl restart <unit>".
func (SystemdRestarter) Restart(ctx context.Context, unit string) error {
	cmd := exec.CommandContext(ctx, "systemctl", "restart", unit)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl restart %s: %w: %s", unit, err, strings.TrimSpace(string(out)))
	}
	return nil
}
