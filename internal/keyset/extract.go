package keyset

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/zip"
)

const (
	// PayloadName names a non-archive payload in diagnostics
	PayloadName = "payload"
	// ArchiveName names an archive that could not be opened at all
	ArchiveName = "archive"

	// MaxMemberSize caps the decompressed size of a single archive member
	MaxMemberSize = 16 << 20
)

var (
	zipLocalHeader = []byte("PK\x03\x04")
	zipEmptyEOCD   = []byte("PK\x05\x06")
	zipSpanned     = []byte("PK\x07\x08")
	utf8BOM        = []byte("\xef\xbb\xbf")
)

// Member is one named blob of key material: an archive entry, or the whole
// payload when the server returned a plain file.
type Member struct {
	Name string
	Data []byte
}

// DecodeError reports archive members that could not be decoded as UTF-8.
// Any decode error fails the whole extraction.
type DecodeError struct {
	Members []string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed file(s), could not decode as utf-8: %s", strings.Join(e.Members, ", "))
}

// Extractor turns raw key server payloads into key sets
type Extractor struct {
	types []string
}

// NewExtractor creates an extractor accepting lines that contain any of types
func NewExtractor(types []string) *Extractor {
	return &Extractor{types: append([]string(nil), types...)}
}

// IsZip reports whether data starts with a zip signature
func IsZip(data []byte) bool {
	return bytes.HasPrefix(data, zipLocalHeader) ||
		bytes.HasPrefix(data, zipEmptyEOCD) ||
		bytes.HasPrefix(data, zipSpanned)
}

// Extract parses data into a key set. Zip archives are detected by content.
// Every archive member is attempted; if any of them is malformed the result
// is a *DecodeError and no keys are returned.
func (e *Extractor) Extract(data []byte) (Set, error) {
	var members []Member
	var malformed []string

	if IsZip(data) {
		var err error
		members, malformed, err = readArchive(data)
		if err != nil {
			return nil, &DecodeError{Members: []string{ArchiveName}}
		}
	} else {
		members = []Member{{Name: PayloadName, Data: data}}
	}

	keys := make(Set)
	for _, m := range members {
		lines, ok := e.ExtractMember(m)
		if !ok {
			malformed = append(malformed, m.Name)
			continue
		}
		keys.Merge(lines)
	}

	if len(malformed) > 0 {
		return nil, &DecodeError{Members: malformed}
	}
	return keys, nil
}

// ExtractMember returns the key lines of a single member. ok is false when
// the member is not valid UTF-8.
func (e *Extractor) ExtractMember(m Member) (keys Set, ok bool) {
	if !utf8.Valid(m.Data) {
		return nil, false
	}

	content := string(bytes.TrimPrefix(m.Data, utf8BOM))
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	keys = make(Set)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if e.matches(line) {
			keys.Add(line)
		}
	}
	return keys, true
}

// matches is a substring test on purpose: it accepts option prefixes such as
// `from="10.0.0.0/8" ssh-ed25519 ...`.
func (e *Extractor) matches(line string) bool {
	for _, t := range e.types {
		if t != "" && strings.Contains(line, t) {
			return true
		}
	}
	return false
}

// readArchive reads every regular member. Members that cannot be opened or
// exceed MaxMemberSize are reported as malformed.
func readArchive(data []byte) (members []Member, malformed []string, err error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("open zip archive: %w", err)
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		content, err := readMember(f)
		if err != nil {
			malformed = append(malformed, f.Name)
			continue
		}
		members = append(members, Member{Name: f.Name, Data: content})
	}
	return members, malformed, nil
}

func readMember(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > MaxMemberSize {
		return nil, fmt.Errorf("member %s exceeds %d bytes", f.Name, MaxMemberSize)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open member %s: %w", f.Name, err)
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, MaxMemberSize+1))
	if err != nil {
		return nil, fmt.Errorf("read member %s: %w", f.Name, err)
	}
	if len(content) > MaxMemberSize {
		return nil, fmt.Errorf("member %s exceeds %d bytes", f.Name, MaxMemberSize)
	}
	return content, nil
}
