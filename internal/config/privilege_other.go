//go:build !linux

package config

import "fmt"

// DropPrivileges does not drop privileges outside Linux: setuid/setgid are
// not portably exposed by the syscall package on every GOOS this module
// might target. It returns nil when no uid/gid was requested and an error
// when one was.
func DropPrivileges(cfg *Config) error {
	if cfg.UID != 0 || cfg.GID != 0 {
		return fmt.Errorf("config: --user/--group privilege drop is only supported on linux")
	}
	return nil
}
