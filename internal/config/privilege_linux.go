//go:build linux

package config

import (
	"fmt"
	"syscall"
)

// DropPrivileges calls setgid/setuid in that order when cfg carries
// non-zero uid/gid, between socket setup and host-audio connect per §5.
// Group is dropped first since a process that has already dropped its uid
// typically no longer has permission to change its gid.
func DropPrivileges(cfg *Config) error {
	if cfg.GID != 0 {
		if err := syscall.Setgid(cfg.GID); err != nil {
			return fmt.Errorf("config: setgid(%d): %w", cfg.GID, err)
		}
	}
	if cfg.UID != 0 {
		if err := syscall.Setuid(cfg.UID); err != nil {
			return fmt.Errorf("config: setuid(%d): %w", cfg.UID, err)
		}
	}
	return nil
}
