package truststore

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
)

// ActualUser returns the user keydist works for. Under sudo that is
// SUDO_USER, so `sudo keydist sync` manages /home/alice/.ssh rather than
// /root/.ssh. An unknown SUDO_USER falls back to the current user.
func ActualUser() (username, homeDir string, err error) {
	if name := os.Getenv("SUDO_USER"); name != "" {
		if u, lookupErr := user.Lookup(name); lookupErr == nil {
			return u.Username, u.HomeDir, nil
		}
	}

	homeDir, err = os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("cannot determine home directory: %w", err)
	}

	// the home directory is what locates the store; the name is best effort
	if u, lookupErr := user.Current(); lookupErr == nil {
		username = u.Username
	}
	return username, homeDir, nil
}

// restoreOwner chowns path to SUDO_USER when keydist runs as root under
// sudo, so sshd's StrictModes check sees the account's own files. It does
// nothing otherwise.
func restoreOwner(path string) error {
	name := os.Getenv("SUDO_USER")
	if name == "" || os.Geteuid() != 0 {
		return nil
	}

	u, err := user.Lookup(name)
	if err != nil {
		return fmt.Errorf("cannot hand %s back to %s: %w", path, name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("cannot hand %s back to %s: uid %q: %w", path, name, u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("cannot hand %s back to %s: gid %q: %w", path, name, u.Gid, err)
	}

	if err := os.Chown(path, uid, gid); err != nil {
		return fmt.Errorf("cannot hand %s back to %s: %w", path, name, err)
	}
	return nil
}
