// Package vault reads and writes the text documents that make up an
// agentvaultd knowledge base: front-matter parsing, glob-based discovery,
// and path resolution confined to the configured root.
package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sergi/go-diff/diffmatchpatch"
	"gopkg.in/yaml.v3"
)

// ErrOutsideRoot is returned when a vault-relative path would resolve
// outside the configured root.
var ErrOutsideRoot = errors.New("vault: path escapes root")

// ErrNotFound is returned when a document does not exist at the given path.
var ErrNotFound = errors.New("vault: document not found")

// Document is a single text file with an optional front-matter block.
type Document struct {
	Path        string         // vault-relative
	FrontMatter map[string]any // nil if the document has no front matter
	FrontRaw    string         // the front-matter block's raw text, "" if none
	Body        string
}

// SearchResult is one hit from Store.Search.
type SearchResult struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Excerpt string `json:"excerpt"`
}

// Store roots all document access at a single directory.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir. The directory is created if it
// does not yet exist, matching the "bundled sample vault" default.
func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("vault: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("vault: create root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the store's absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Resolve converts a vault-relative path to an absolute one, rejecting any
// path that would escape the root.
func (s *Store) Resolve(relPath string) (string, error) {
	cleaned := filepath.Clean("/" + relPath)
	abs := filepath.Join(s.root, cleaned)
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return abs, nil
}

// RelPath converts an absolute path back to vault-relative, forward-slashed
// form. Returns ErrOutsideRoot if abs is not under the store's root.
func (s *Store) RelPath(abs string) (string, error) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", ErrOutsideRoot
	}
	return filepath.ToSlash(rel), nil
}

// ReadRaw returns a document's raw bytes.
func (s *Store) ReadRaw(relPath string) ([]byte, error) {
	abs, err := s.Resolve(relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Read loads and parses a document's front matter and body.
func (s *Store) Read(relPath string) (*Document, error) {
	raw, err := s.ReadRaw(relPath)
	if err != nil {
		return nil, err
	}
	front, frontRaw, body, err := ParseFrontMatter(raw)
	if err != nil {
		return nil, fmt.Errorf("vault: parse %s: %w", relPath, err)
	}
	return &Document{
		Path:        relPath,
		FrontMatter: front,
		FrontRaw:    frontRaw,
		Body:        body,
	}, nil
}

// WriteRaw atomically writes raw bytes to a vault-relative path, creating
// parent directories as needed.
func (s *Store) WriteRaw(relPath string, data []byte) error {
	abs, err := s.Resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".vault-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, abs)
}

// Exists reports whether a vault-relative path names an existing file.
func (s *Store) Exists(relPath string) bool {
	abs, err := s.Resolve(relPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// Glob returns vault-relative paths matching a doublestar pattern
// (e.g. "agents/*", "daily/**/*.md").
func (s *Store) Glob(pattern string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := s.RelPath(path)
		if relErr != nil {
			return nil
		}
		ok, matchErr := doublestar.Match(pattern, rel)
		if matchErr == nil && ok {
			matches = append(matches, rel)
		}
		return nil
	})
	return matches, err
}

// Search performs a case-insensitive substring search over every text
// document in the vault, returning one excerpt per matching line.
func (s *Store) Search(query string) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	needle := strings.ToLower(query)

	var results []SearchResult
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasPrefix(filepath.Base(path), ".") {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		rel, relErr := s.RelPath(path)
		if relErr != nil {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				results = append(results, SearchResult{
					Path:    rel,
					Line:    i + 1,
					Excerpt: strings.TrimSpace(line),
				})
			}
		}
		return nil
	})
	return results, err
}

// ParseFrontMatter splits raw document bytes into a front-matter map, the
// front matter's raw text (without delimiters), and the body. Documents
// with no leading "---" line have nil front matter and the entire content
// as body.
func ParseFrontMatter(raw []byte) (front map[string]any, frontRaw string, body string, err error) {
	content := string(raw)
	lines := strings.Split(content, "\n")

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return nil, "", content, nil
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		// Unterminated delimiter: treat the whole thing as body.
		return nil, "", content, nil
	}

	frontRaw = strings.Join(lines[1:end], "\n")
	body = strings.TrimPrefix(strings.Join(lines[end+1:], "\n"), "\n")

	if strings.TrimSpace(frontRaw) == "" {
		return map[string]any{}, frontRaw, body, nil
	}

	front = map[string]any{}
	if err := yaml.Unmarshal([]byte(frontRaw), &front); err != nil {
		return nil, frontRaw, body, err
	}
	return front, frontRaw, body, nil
}

// RenderFrontMatter re-serializes a front-matter map and body into a
// complete document. Used when the whole front matter is being rewritten;
// callers needing byte-for-byte preservation of untouched fields (the
// Document Scanner's status updates) must instead splice FrontRaw directly.
func RenderFrontMatter(front map[string]any, body string) (string, error) {
	if len(front) == 0 {
		return body, nil
	}
	encoded, err := yaml.Marshal(front)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(encoded)
	sb.WriteString("---\n")
	if body != "" {
		sb.WriteString("\n")
		sb.WriteString(body)
	}
	return sb.String(), nil
}

// DiffPreview renders a human-readable unified-style preview of the change
// a write/edit tool call would make, for display in a permission prompt.
func DiffPreview(oldContent, newContent string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldContent, newContent, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return dmp.DiffPrettyText(diffs)
}
