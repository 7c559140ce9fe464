package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionSecretRoundTrip(t *testing.T) {
	c := New()
	ctx := context.Background()

	got, err := c.GetSessionSecret(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, c.SetSessionSecret(ctx, "s1", "secret-a"))
	got, err = c.GetSessionSecret(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "secret-a", got)

	require.NoError(t, c.DeleteSessionSecret(ctx, "s1"))
	got, err = c.GetSessionSecret(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
