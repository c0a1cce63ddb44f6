package credentials

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSource_Token(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/chatsync/token", []byte("  tok-123\n"), 0o600))

	source := NewFileSource(fs, "/etc/chatsync/token")
	tok, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-123", tok)
}

func TestFileSource_MissingFileMeansNoCredential(t *testing.T) {
	source := NewFileSource(afero.NewMemMapFs(), "/nope/token")
	tok, err := source.Token()
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestFileSource_PicksUpRotation(t *testing.T) {
	fs := afero.NewMemMapFs()
	source := NewFileSource(fs, "/token")

	require.NoError(t, afero.WriteFile(fs, "/token", []byte("old"), 0o600))
	tok, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "old", tok)

	require.NoError(t, afero.WriteFile(fs, "/token", []byte("new"), 0o600))
	tok, err = source.Token()
	require.NoError(t, err)
	assert.Equal(t, "new", tok)

	require.NoError(t, fs.Remove("/token"))
	tok, err = source.Token()
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestFileSource_WatchRequiresOsFilesystem(t *testing.T) {
	source := NewFileSource(afero.NewMemMapFs(), "/token")
	assert.Error(t, source.Watch(context.Background(), func() {}))
}

func TestStatic_Token(t *testing.T) {
	tok, err := Static("fixed").Token()
	require.NoError(t, err)
	assert.Equal(t, "fixed", tok)
}
