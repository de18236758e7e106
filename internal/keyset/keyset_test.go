package keyset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet_DigestIgnoresInsertionOrder(t *testing.T) {
	a := NewSet(rsaKey, ed25519Key)
	b := NewSet(ed25519Key, rsaKey)

	assert.Equal(t, a.Digest(), b.Digest())
	assert.NotEqual(t, a.Digest(), NewSet(rsaKey).Digest())
	assert.Len(t, a.Digest(), 64)
}

func TestSet_Merge(t *testing.T) {
	s := NewSet(rsaKey)
	s.Merge(NewSet(rsaKey, ed25519Key))

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has(ed25519Key))
	assert.False(t, s.Has("ssh-rsa"))
}

func TestFingerprint(t *testing.T) {
	// Real ed25519 public key
	valid := "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIOMqqnkVzrm0SdG6UOoqKLsabgH5C9okWi0dh2l9GKJl test@example"

	fp := Fingerprint(valid)
	assert.Contains(t, fp, "SHA256:")

	assert.Empty(t, Fingerprint("ssh-rsa not-base64"))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short", 10))
	assert.Equal(t, "0123456789...", Preview("0123456789abcdef", 10))
}
