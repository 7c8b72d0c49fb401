package sourcelist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeSourceFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type fakeProvider struct {
	entries []Entry
	err     error
}

func (p *fakeProvider) Sources(context.Context) ([]Entry, error) {
	return p.entries, p.err
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := writeSourceFile(t, `[
		{"name": "nature", "link": "https://www.nature.com/nature"},
		{"name": "cell", "link": "https://www.cell.com/cell"}
	]`)

	entries, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "nature", entries[0].Name)
	assert.Equal(t, "https://www.cell.com/cell", entries[1].Link)
}

func TestLoader_DynamicWins(t *testing.T) {
	t.Parallel()

	fallback := writeSourceFile(t, `[{"name": "static", "link": "https://static.example.org"}]`)
	provider := &fakeProvider{entries: []Entry{{Name: "dynamic", Link: "https://dynamic.example.org"}}}

	loader := New(provider, fallback, zap.NewNop())
	sources, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "dynamic", sources[0].Name)
}

func TestLoader_FallsBackOnProviderError(t *testing.T) {
	t.Parallel()

	fallback := writeSourceFile(t, `[{"name": "static", "link": "https://static.example.org"}]`)
	provider := &fakeProvider{err: fmt.Errorf("directory page unreachable")}

	loader := New(provider, fallback, zap.NewNop())
	sources, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "static", sources[0].Name)
}

func TestLoader_FallsBackOnEmptyProvider(t *testing.T) {
	t.Parallel()

	fallback := writeSourceFile(t, `[{"name": "static", "link": "https://static.example.org"}]`)
	loader := New(&fakeProvider{}, fallback, zap.NewNop())

	sources, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "static", sources[0].Name)
}

func TestLoader_NoProviderUsesFile(t *testing.T) {
	t.Parallel()

	fallback := writeSourceFile(t, `[{"name": "static", "link": "https://static.example.org"}]`)
	loader := New(nil, fallback, nil)

	sources, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1)
}

func TestLoader_MissingNameRejected(t *testing.T) {
	t.Parallel()

	fallback := writeSourceFile(t, `[{"name": "", "link": "https://static.example.org"}]`)
	loader := New(nil, fallback, zap.NewNop())

	_, err := loader.Load(context.Background())
	require.Error(t, err)
}

func TestLoader_DuplicateNamesCollapsed(t *testing.T) {
	t.Parallel()

	fallback := writeSourceFile(t, `[
		{"name": "nature", "link": "https://www.nature.com/nature"},
		{"name": "nature", "link": "https://www.nature.com/other"}
	]`)
	loader := New(nil, fallback, zap.NewNop())

	sources, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "https://www.nature.com/nature", sources[0].ListingURL)
}

func TestLoadFile_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoader_BrowserFallbackFlag(t *testing.T) {
	t.Parallel()

	fallback := writeSourceFile(t, `[
		{"name": "nature", "link": "https://www.nature.com/nature"},
		{"name": "cell", "link": "https://www.cell.com/cell", "browser_fallback": false},
		{"name": "science", "link": "https://www.science.org", "browser_fallback": true}
	]`)

	sources, err := New(nil, fallback, zap.NewNop()).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 3)
	assert.True(t, sources[0].BrowserFallback, "absent flag defaults to enabled")
	assert.False(t, sources[1].BrowserFallback)
	assert.True(t, sources[2].BrowserFallback)
}
