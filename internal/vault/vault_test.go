package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	return s
}

func TestResolveRejectsEscape(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Resolve("../../etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideRoot)

	abs, err := s.Resolve("agents/helper.md")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	content := "---\ntitle: Hello\ntags:\n  - a\n  - b\n---\n\nBody text here.\n"
	require.NoError(t, s.WriteRaw("notes/hello.md", []byte(content)))

	doc, err := s.Read("notes/hello.md")
	require.NoError(t, err)
	assert.Equal(t, "Hello", doc.FrontMatter["title"])
	assert.Equal(t, "Body text here.\n", doc.Body)
}

func TestReadNoFrontMatter(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteRaw("plain.md", []byte("just body\n")))

	doc, err := s.Read("plain.md")
	require.NoError(t, err)
	assert.Nil(t, doc.FrontMatter)
	assert.Equal(t, "just body\n", doc.Body)
}

func TestReadMissingDocument(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("nope.md")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGlobMatchesPattern(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteRaw("agents/helper.md", []byte("x")))
	require.NoError(t, s.WriteRaw("agents/reflect.md", []byte("x")))
	require.NoError(t, s.WriteRaw("notes/other.md", []byte("x")))

	matches, err := s.Glob("agents/*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"agents/helper.md", "agents/reflect.md"}, matches)
}

func TestSearchFindsSubstring(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteRaw("notes/a.md", []byte("line one\nSECRET token here\nline three\n")))

	results, err := s.Search("secret")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "notes/a.md", results[0].Path)
	assert.Equal(t, 2, results[0].Line)
}

func TestRenderFrontMatterRoundTrip(t *testing.T) {
	front := map[string]any{"title": "Doc"}
	rendered, err := RenderFrontMatter(front, "body text\n")
	require.NoError(t, err)

	parsed, _, body, err := ParseFrontMatter([]byte(rendered))
	require.NoError(t, err)
	assert.Equal(t, "Doc", parsed["title"])
	assert.Equal(t, "body text\n", body)
}

func TestDiffPreviewHighlightsChange(t *testing.T) {
	out := DiffPreview("hello world", "hello there")
	assert.NotEmpty(t, out)
}

func TestWriteRawCreatesParentDirs(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteRaw("deep/nested/path/doc.md", []byte("x")))

	abs, err := s.Resolve("deep/nested/path/doc.md")
	require.NoError(t, err)
	_, statErr := os.Stat(abs)
	assert.NoError(t, statErr)
}
