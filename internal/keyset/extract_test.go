package keyset

import (
	"bytes"
	"errors"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultTypes = []string{
	"ssh-rsa",
	"ecdsa-sha2-nistp256",
	"ecdsa-sha2-nistp384",
	"ecdsa-sha2-nistp521",
	"ssh-ed25519",
}

const (
	rsaKey     = "ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAABAQC7 alice@laptop"
	ed25519Key = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIGk bob@desktop"
)

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtract_PlainPayload(t *testing.T) {
	e := NewExtractor(defaultTypes)

	keys, err := e.Extract([]byte(rsaKey + "\nnot-a-key\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{rsaKey}, keys.Sorted())
}

func TestExtract_FiltersAndDeduplicates(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{
			name:    "surrounding whitespace is stripped",
			payload: "   " + rsaKey + "   \n\t" + ed25519Key + "\t\n",
			want:    []string{ed25519Key, rsaKey},
		},
		{
			name:    "exact duplicates collapse",
			payload: rsaKey + "\n" + rsaKey + "\n",
			want:    []string{rsaKey},
		},
		{
			name:    "comment-only difference is a distinct key",
			payload: rsaKey + "\n" + rsaKey + "-2\n",
			want:    []string{rsaKey, rsaKey + "-2"},
		},
		{
			name:    "crlf line endings",
			payload: rsaKey + "\r\n" + ed25519Key + "\r\n",
			want:    []string{ed25519Key, rsaKey},
		},
		{
			name:    "options prefix is accepted",
			payload: `from="10.0.0.0/8" ` + ed25519Key,
			want:    []string{`from="10.0.0.0/8" ` + ed25519Key},
		},
		{
			name:    "blank and unrelated lines are dropped",
			payload: "\n\n# comment\nhello world\n",
			want:    []string{},
		},
		{
			name:    "leading BOM is ignored",
			payload: "\ufeff" + rsaKey,
			want:    []string{rsaKey},
		},
	}

	e := NewExtractor(defaultTypes)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, err := e.Extract([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, keys.Sorted())
		})
	}
}

func TestExtract_Deterministic(t *testing.T) {
	e := NewExtractor(defaultTypes)
	payload := []byte(rsaKey + "\n" + ed25519Key + "\n")

	first, err := e.Extract(payload)
	require.NoError(t, err)
	second, err := e.Extract(payload)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first.Digest(), second.Digest())
}

func TestExtract_PlainInvalidUTF8(t *testing.T) {
	e := NewExtractor(defaultTypes)

	keys, err := e.Extract([]byte{0xff, 0xfe, 's', 's', 'h'})
	assert.Nil(t, keys)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, []string{PayloadName}, decodeErr.Members)
}

func TestExtract_Archive(t *testing.T) {
	data := buildZip(t, map[string][]byte{
		"alice.txt":  []byte(rsaKey + "\n"),
		"bob.txt":    []byte(ed25519Key + "\nrandom text\n"),
		"shared.txt": []byte(rsaKey + "\n"),
	})
	require.True(t, IsZip(data))

	keys, err := NewExtractor(defaultTypes).Extract(data)
	require.NoError(t, err)
	assert.Equal(t, []string{ed25519Key, rsaKey}, keys.Sorted())
}

func TestExtract_ArchiveWithCorruptMember(t *testing.T) {
	data := buildZip(t, map[string][]byte{
		"alice.txt":   []byte(rsaKey + "\n"),
		"bob.txt":     []byte(ed25519Key + "\n"),
		"corrupt.bin": {0xc3, 0x28, 0xa0, 0xa1},
	})

	keys, err := NewExtractor(defaultTypes).Extract(data)
	assert.Nil(t, keys)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, []string{"corrupt.bin"}, decodeErr.Members)
	assert.Contains(t, err.Error(), "corrupt.bin")
}

func TestExtract_TruncatedArchive(t *testing.T) {
	data := buildZip(t, map[string][]byte{"alice.txt": []byte(rsaKey)})

	_, err := NewExtractor(defaultTypes).Extract(data[:len(data)/2])

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, []string{ArchiveName}, decodeErr.Members)
}

func TestExtract_ArchiveSkipsDirectories(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	_, err := w.Create("keys/")
	require.NoError(t, err)
	f, err := w.Create("keys/alice.pub")
	require.NoError(t, err)
	_, err = f.Write([]byte(rsaKey))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	keys, err := NewExtractor(defaultTypes).Extract(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{rsaKey}, keys.Sorted())
}

func TestIsZip(t *testing.T) {
	assert.True(t, IsZip([]byte("PK\x03\x04rest")))
	assert.True(t, IsZip([]byte("PK\x05\x06")))
	assert.False(t, IsZip([]byte("ssh-rsa AAAA")))
	assert.False(t, IsZip(nil))
}
