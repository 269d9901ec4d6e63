package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useMemoryKeyring(t *testing.T) {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	prev := open
	open = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { open = prev })
}

func TestSetGetDelete(t *testing.T) {
	useMemoryKeyring(t)

	_, err := Get("imap-password")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, Set("imap-password", "s3cret"))

	got, err := Get("imap-password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	require.NoError(t, Delete("imap-password"))
	require.NoError(t, Delete("imap-password"))

	_, err = Get("imap-password")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIMAPPassword_EnvironmentWins(t *testing.T) {
	useMemoryKeyring(t)
	require.NoError(t, Set(IMAPPasswordKey, "from-keyring"))

	t.Setenv(IMAPPasswordEnv, "")
	got, err := IMAPPassword()
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", got)

	t.Setenv(IMAPPasswordEnv, "from-env")
	got, err = IMAPPassword()
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)
}
