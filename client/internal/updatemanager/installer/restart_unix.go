//go:build unix

package installer

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func restart(exe string) error {
	if err := unix.Exec(exe, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", exe, err)
	}
	return nil
}
