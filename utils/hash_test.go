package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sha256("abc"), the FIPS 180-2 test vector.
const sha256abc = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

func TestHashFileUsesSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.bin")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	hash, size, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
	assert.Equal(t, sha256abc, hash)
}

func TestHashBytesMatchesHashFile(t *testing.T) {
	assert.Equal(t, sha256abc, HashBytes([]byte("abc")))
}

func TestFingerprintIgnoresCaseAndWhitespace(t *testing.T) {
	a := Fingerprint("Replace the  fuser\nlamp")
	b := Fingerprint("replace the fuser lamp")
	c := Fingerprint("replace the pickup roller")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
