package truststore

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kamikazebr/keydist/internal/keyset"
)

// Policy selects how fetched keys are combined with the trust store
type Policy int

const (
	// ReplaceAll overwrites the trust store with exactly the fetched keys
	ReplaceAll Policy = iota
	// AdditiveMerge appends fetched keys that are not already present
	AdditiveMerge
)

func (p Policy) String() string {
	switch p {
	case ReplaceAll:
		return "replace-all"
	case AdditiveMerge:
		return "additive-merge"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// WriteError is returned when the trust store could not be written.
// The previous file content is left in place.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("error writing to %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Result describes what a reconciliation changed
type Result struct {
	Policy  Policy
	Added   []string // Lines that were not in the file before
	Removed []string // Lines dropped by replace-all
	Total   int      // Key lines in the file afterwards
	Changed bool     // Whether the file was rewritten
	Backup  string   // Backup path, if one was taken
	Digest  string   // Digest of the fetched key set

	// OwnershipErrors lists files that could not be handed back to the
	// sudo user. The write itself succeeded.
	OwnershipErrors []error
}

// Reconciler writes fetched key sets into the trust store
type Reconciler struct {
	Policy Policy
	Backup bool
	Now    func() time.Time

	// Chown hands written files back to the invoking user under sudo.
	// Nil means the SUDO_USER lookup.
	Chown func(path string) error
}

// Apply reconciles keys into paths.KeysFile according to the policy
func (r *Reconciler) Apply(paths Paths, keys keyset.Set) (*Result, error) {
	existing, mode, err := readExisting(paths.KeysFile)
	if err != nil {
		return nil, &WriteError{Path: paths.KeysFile, Err: err}
	}
	existingLines := splitLines(existing)

	result := &Result{
		Policy: r.Policy,
		Digest: keys.Digest(),
	}

	var content []byte
	switch r.Policy {
	case ReplaceAll:
		lines := keys.Sorted()
		result.Added, result.Removed = diffKeys(existingLines, lines)
		result.Total = len(lines)
		content = joinLines(lines)

		if existing != nil && bytes.Equal(existing, content) {
			return result, nil
		}

	case AdditiveMerge:
		present := keyset.NewSet(existingLines...)
		for _, line := range keys.Sorted() {
			if !present.Has(line) {
				result.Added = append(result.Added, line)
			}
		}
		result.Total = countKeys(existingLines) + len(result.Added)

		if len(result.Added) == 0 {
			return result, nil
		}

		content = append(content, existing...)
		if len(content) > 0 && content[len(content)-1] != '\n' {
			content = append(content, '\n')
		}
		content = append(content, joinLines(result.Added)...)

	default:
		return nil, fmt.Errorf("unknown reconcile policy %v", r.Policy)
	}

	if err := os.MkdirAll(paths.StoreDir, 0o700); err != nil {
		return nil, &WriteError{Path: paths.KeysFile, Err: fmt.Errorf("failed to create %s: %w", paths.StoreDir, err)}
	}
	r.restoreOwner(result, paths.StoreDir)

	if r.Backup && existing != nil {
		backup, err := r.createBackup(paths.KeysFile, existing)
		if err != nil {
			return nil, &WriteError{Path: paths.KeysFile, Err: fmt.Errorf("failed to create backup: %w", err)}
		}
		result.Backup = backup
		r.restoreOwner(result, backup)
	}

	if err := writeAtomic(paths.KeysFile, content, mode); err != nil {
		return nil, &WriteError{Path: paths.KeysFile, Err: err}
	}
	r.restoreOwner(result, paths.KeysFile)

	result.Changed = true
	return result, nil
}

// ReadKeys returns the non-empty lines of the keys file. A missing file
// yields no lines.
func ReadKeys(keysFile string) ([]string, error) {
	content, _, err := readExisting(keysFile)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range splitLines(content) {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// readExisting returns nil content for a missing file. mode is the file's
// current permission bits, or 0600 for a file yet to be created.
func readExisting(path string) ([]byte, fs.FileMode, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, OwnerReadWrite, nil
	}
	if err != nil {
		return nil, 0, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return content, info.Mode().Perm(), nil
}

// createBackup writes a timestamped copy of the current keys file
func (r *Reconciler) createBackup(keysFile string, content []byte) (string, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	backupPath := fmt.Sprintf("%s.backup.%s", keysFile, now().Format("20060102-150405"))
	if err := os.WriteFile(backupPath, content, OwnerReadWrite); err != nil {
		return "", err
	}
	return backupPath, nil
}

func (r *Reconciler) restoreOwner(result *Result, path string) {
	chown := r.Chown
	if chown == nil {
		chown = restoreOwner
	}
	if err := chown(path); err != nil {
		result.OwnershipErrors = append(result.OwnershipErrors, err)
	}
}

// writeAtomic writes content to a temp file in the same directory and renames
// it over path, so readers see either the old or the new file.
func writeAtomic(path string, content []byte, mode fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanupNeeded := true
	defer func() {
		tmp.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(mode); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	cleanupNeeded = false
	return nil
}

func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	text := strings.TrimSuffix(string(content), "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

func joinLines(lines []string) []byte {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func countKeys(lines []string) int {
	n := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			n++
		}
	}
	return n
}

// diffKeys calculates which keys were added and removed
func diffKeys(oldKeys, newKeys []string) (added []string, removed []string) {
	oldSet := keyset.NewSet(oldKeys...)
	newSet := keyset.NewSet(newKeys...)

	for _, key := range newKeys {
		if !oldSet.Has(key) {
			added = append(added, key)
		}
	}

	for _, key := range oldKeys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		if !newSet.Has(key) {
			removed = append(removed, key)
		}
	}

	return added, removed
}
