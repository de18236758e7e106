// Package keyset parses SSH public key material fetched from a key server.
package keyset

import (
	"encoding/hex"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/ssh"
)

// Set is a set of candidate authorized_keys lines. Two lines are the same key
// only if they are byte-for-byte equal, so keys differing in comment are distinct.
type Set map[string]struct{}

// NewSet creates a set holding the given lines
func NewSet(lines ...string) Set {
	s := make(Set, len(lines))
	for _, line := range lines {
		s.Add(line)
	}
	return s
}

// Add inserts a line into the set
func (s Set) Add(line string) {
	s[line] = struct{}{}
}

// Has reports whether the exact line is present
func (s Set) Has(line string) bool {
	_, ok := s[line]
	return ok
}

// Len returns the number of lines
func (s Set) Len() int {
	return len(s)
}

// Merge adds every line of other to s
func (s Set) Merge(other Set) {
	for line := range other {
		s.Add(line)
	}
}

// Sorted returns the lines in lexical order
func (s Set) Sorted() []string {
	lines := make([]string, 0, len(s))
	for line := range s {
		lines = append(lines, line)
	}
	sort.Strings(lines)
	return lines
}

// Digest returns a hex BLAKE3-256 digest of the sorted lines.
// Equal sets always produce equal digests.
func (s Set) Digest() string {
	return DigestLines(s.Sorted())
}

// DigestLines hashes lines in the order given, one per newline-terminated row
func DigestLines(lines []string) string {
	h := blake3.New()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns the SHA256 fingerprint of an authorized_keys line, or
// an empty string when the line does not parse. It is used for diagnostics
// only; unparseable lines are still synced.
func Fingerprint(line string) string {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return ""
	}
	return ssh.FingerprintSHA256(pub)
}

// Preview shortens a key line for display
func Preview(line string, max int) string {
	line = strings.TrimSpace(line)
	if len(line) <= max {
		return line
	}
	return line[:max] + "..."
}
