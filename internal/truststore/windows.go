package truststore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
)

// CommandRunner runs an external command and returns its combined output
type CommandRunner func(name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec
func ExecRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Windows checks and repairs ACLs with icacls
type Windows struct {
	lookup UserLookup
	run    CommandRunner
}

// NewWindows creates the Windows platform
func NewWindows(lookup UserLookup, run CommandRunner) *Windows {
	return &Windows{lookup: lookup, run: run}
}

func (w *Windows) Name() string {
	return "windows"
}

func (w *Windows) Locate() (Paths, error) {
	return locate(w.lookup)
}

// EnforcePermissions makes sure the invoking user has full control. If not,
// inherited entries are dropped and the user is granted exclusive full control.
func (w *Windows) EnforcePermissions(keysFile string) error {
	if _, err := os.Stat(keysFile); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return &PermissionError{Path: keysFile, Err: err}
	}

	username, _, err := w.lookup()
	if err != nil || username == "" {
		return &PermissionError{Path: keysFile, Err: fmt.Errorf("resolve current user: %v", err)}
	}

	out, err := w.run("icacls", keysFile)
	if err != nil {
		return &PermissionError{Path: keysFile, Err: fmt.Errorf("icacls query failed: %w: %s", err, strings.TrimSpace(string(out)))}
	}

	if hasFullControl(string(out), username) {
		return nil
	}

	if out, err := w.run("icacls", keysFile, "/reset"); err != nil {
		return &PermissionError{Path: keysFile, Err: fmt.Errorf("icacls reset failed: %w: %s", err, strings.TrimSpace(string(out)))}
	}

	grant := username + ":(F)"
	if out, err := w.run("icacls", keysFile, "/inheritance:r", "/grant:r", grant); err != nil {
		return &PermissionError{Path: keysFile, Err: fmt.Errorf("icacls grant failed: %w: %s", err, strings.TrimSpace(string(out)))}
	}

	return nil
}

// hasFullControl scans icacls output for an (F) entry belonging to username.
// Usernames may be qualified (DOMAIN\user); matching is case-insensitive.
//
//	C:\Users\alice\.ssh\authorized_keys NT AUTHORITY\SYSTEM:(F)
//	                                    DESKTOP-1\alice:(I)(F)
func hasFullControl(output, username string) bool {
	name := strings.ToLower(username)
	short := name
	if i := strings.LastIndex(name, `\`); i >= 0 {
		short = name[i+1:]
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.ToLower(strings.TrimSpace(line))
		idx := strings.Index(line, ":(")
		if idx < 0 {
			continue
		}

		principal := line[:idx]
		perms := line[idx+1:]
		if !strings.Contains(perms, "(f)") {
			continue
		}

		if principal == name || principal == short ||
			strings.HasSuffix(principal, " "+name) ||
			strings.HasSuffix(principal, `\`+short) ||
			strings.HasSuffix(principal, " "+short) {
			return true
		}
	}
	return false
}
