package native

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessRunning reports whether any running process is named one of
// names. Processes that vanish while being inspected are skipped.
func ProcessRunning(ctx context.Context, names ...string) (bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("listing processes: %w", err)
	}
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		for _, want := range names {
			if name == want {
				return true, nil
			}
		}
	}
	return false, nil
}

// RequireProcess returns an error naming the candidates when none of
// them is running.
func RequireProcess(ctx context.Context, names ...string) error {
	ok, err := ProcessRunning(ctx, names...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no server process running (looked for %v)", names)
	}
	return nil
}
