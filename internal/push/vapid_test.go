package push

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureVAPIDKeysGeneratesAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vapid.json")

	first, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	require.NotEmpty(t, first.PublicKey)
	require.NotEmpty(t, first.PrivateKey)

	// A second call loads the persisted pair instead of regenerating.
	second, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey, second.PublicKey)
	assert.Equal(t, first.PrivateKey, second.PrivateKey)
}
