package users

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	u, err := s.GetUser()
	require.NoError(t, err)
	assert.Nil(t, u)

	require.NoError(t, s.SetUser(&User{ID: 7, Login: "octo", AccessToken: "secret"}))

	u, err = s.GetUser()
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, 7, u.ID)
	assert.Equal(t, "secret", u.AccessToken)

	require.NoError(t, s.DeleteUser())
	require.NoError(t, s.DeleteUser())

	u, err = s.GetUser()
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestStore_RejectsMissingToken(t *testing.T) {
	s := NewStore(t.TempDir())
	assert.Error(t, s.SetUser(&User{Login: "octo"}))
	assert.Error(t, s.SetUser(nil))
}

func TestStore_TokenlessFileMeansLoggedOut(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("login: octo\n"), 0600))

	u, err := NewStore(dir).GetUser()
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("id: [unterminated\n"), 0600))

	_, err := NewStore(dir).GetUser()
	assert.Error(t, err)
}
