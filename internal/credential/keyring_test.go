package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useFileBackend(t *testing.T) {
	t.Helper()
	orig := ringConfig
	t.Cleanup(func() { ringConfig = orig })
	ringConfig = keyring.Config{
		ServiceName:      "onebox-test",
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          t.TempDir(),
		FilePasswordFunc: keyring.FixedStringPrompt("test-key"),
	}
}

func TestSetGetDelete(t *testing.T) {
	useFileBackend(t)

	key := AccountKey("me@example.com")
	require.NoError(t, Set(key, "hunter2"))

	got, err := Get(key)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	require.NoError(t, Delete(key))
	_, err = Get(key)
	assert.Error(t, err)
}

func TestSetOverwrites(t *testing.T) {
	useFileBackend(t)

	key := AccountKey("me@example.com")
	require.NoError(t, Set(key, "old"))
	require.NoError(t, Set(key, "new"))

	got, err := Get(key)
	require.NoError(t, err)
	assert.Equal(t, "new", got)
}

func TestAccountKey(t *testing.T) {
	assert.Equal(t, "account:me@example.com", AccountKey("me@example.com"))
}
