package repository

import (
	"testing"

	"github.com/CurtWal/Touch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRotated(t *testing.T) {
	assert.True(t, tokenRotated(map[string]string{
		models.CredAccessToken:  "tok",
		models.CredRefreshToken: "ref",
	}))
	assert.True(t, tokenRotated(map[string]string{
		models.CredAccessToken: "tok",
	}))

	// Bookkeeping patches leave the refresh timestamp alone.
	assert.False(t, tokenRotated(map[string]string{
		models.CredLinkedinUserID: "member-1",
	}))
	assert.False(t, tokenRotated(map[string]string{
		models.CredOAuth1Token:  "ot",
		models.CredOAuth1Secret: "os",
	}))
	assert.False(t, tokenRotated(nil))
}

func TestSealPatchRoundTrip(t *testing.T) {
	r := &credentialRepository{cryptKey: []byte("0123456789abcdef0123456789abcdef")}

	sealed, err := r.sealPatch(map[string]string{
		models.CredAccessToken:    "tok",
		models.CredRefreshToken:   "ref",
		models.CredLinkedinUserID: "member-1",
	})
	require.NoError(t, err)

	// Token values are opaque once sealed; the cached id is not.
	assert.NotEqual(t, "tok", sealed[models.CredAccessToken])
	assert.NotEqual(t, "ref", sealed[models.CredRefreshToken])
	assert.Equal(t, "member-1", sealed[models.CredLinkedinUserID])

	cred := &models.PlatformCredential{Credentials: sealed}
	require.NoError(t, r.openCredential(cred))
	assert.Equal(t, "tok", cred.Credentials[models.CredAccessToken])
	assert.Equal(t, "ref", cred.Credentials[models.CredRefreshToken])
	assert.Equal(t, "member-1", cred.Credentials[models.CredLinkedinUserID])
}
