package truststore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// OwnerReadWrite is the only mode accepted for a POSIX trust store
const OwnerReadWrite fs.FileMode = 0o600

// POSIX handles Linux, macOS and the BSDs
type POSIX struct {
	lookup UserLookup
}

// NewPOSIX creates the POSIX platform
func NewPOSIX(lookup UserLookup) *POSIX {
	return &POSIX{lookup: lookup}
}

func (p *POSIX) Name() string {
	return "posix"
}

func (p *POSIX) Locate() (Paths, error) {
	return locate(p.lookup)
}

// EnforcePermissions narrows the file mode to exactly 0600.
// A missing file is left alone; the reconciler creates it with 0600.
func (p *POSIX) EnforcePermissions(keysFile string) error {
	info, err := os.Stat(keysFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &PermissionError{Path: keysFile, Err: err}
	}

	if info.Mode().Perm() == OwnerReadWrite {
		return nil
	}

	if err := os.Chmod(keysFile, OwnerReadWrite); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return &PermissionError{Path: keysFile, Err: fmt.Errorf("insufficient privileges to chmod %o: %w", OwnerReadWrite, err)}
		}
		return &PermissionError{Path: keysFile, Err: err}
	}
	return nil
}
