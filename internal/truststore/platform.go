// Package truststore locates the authorized_keys file, enforces its
// permissions and writes reconciled key sets into it.
package truststore

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

const (
	// StoreDirName is the per-user SSH directory
	StoreDirName = ".ssh"
	// KeysFileName is the trust store file inside StoreDirName
	KeysFileName = "authorized_keys"
)

// ErrUnsupportedPlatform is returned on operating systems that are neither
// POSIX-like nor Windows
var ErrUnsupportedPlatform = errors.New("unsupported OS, only POSIX and Windows are supported")

// Paths are the trust store locations for the invoking user
type Paths struct {
	StoreDir string
	KeysFile string
}

// PermissionError means the trust store could not be restricted to its owner.
// Sync must not proceed when it is returned.
type PermissionError struct {
	Path string
	Err  error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("cannot enforce permissions on %s: %v", e.Path, e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// Platform abstracts the OS specific parts of trust store handling
type Platform interface {
	// Name identifies the platform family in logs
	Name() string
	// Locate resolves the trust store paths for the invoking user.
	// It is evaluated on every call so home or user changes are picked up.
	Locate() (Paths, error)
	// EnforcePermissions restricts an existing keys file to its owner
	EnforcePermissions(keysFile string) error
}

// Current returns the platform for the running OS
func Current() Platform {
	return ForOS(runtime.GOOS)
}

// ForOS returns the platform implementation for a GOOS value
func ForOS(goos string) Platform {
	switch goos {
	case "windows":
		return NewWindows(ActualUser, ExecRunner)
	case "linux", "android", "darwin", "ios", "freebsd", "openbsd", "netbsd",
		"dragonfly", "solaris", "illumos", "aix":
		return NewPOSIX(ActualUser)
	default:
		return Unsupported{OS: goos}
	}
}

// UserLookup resolves the invoking user's name and home directory
type UserLookup func() (username, homeDir string, err error)

func locate(lookup UserLookup) (Paths, error) {
	_, home, err := lookup()
	if err != nil {
		return Paths{}, fmt.Errorf("failed to get home directory: %w", err)
	}
	if home == "" {
		return Paths{}, errors.New("failed to get home directory: empty path")
	}

	storeDir := filepath.Join(home, StoreDirName)
	return Paths{
		StoreDir: storeDir,
		KeysFile: filepath.Join(storeDir, KeysFileName),
	}, nil
}

// Unsupported is the platform used on any other OS. Every operation fails.
type Unsupported struct {
	OS string
}

func (u Unsupported) Name() string {
	return u.OS
}

func (u Unsupported) Locate() (Paths, error) {
	return Paths{}, fmt.Errorf("%s: %w", u.OS, ErrUnsupportedPlatform)
}

func (u Unsupported) EnforcePermissions(string) error {
	return fmt.Errorf("%s: %w", u.OS, ErrUnsupportedPlatform)
}
