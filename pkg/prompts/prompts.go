// Package prompts resolves named prompt templates from a markdown document.
// Each level-4 heading (#### name) starts a template; the body runs until
// the next heading.
package prompts

import (
	_ "embed"
	"io"
	"regexp"
	"strings"

	"github.com/Tenemo/bob/internal/log"
)

//go:embed prompts.md
var defaultDoc string

// Repository holds a parsed prompt document.
type Repository struct {
	doc string
}

// Default returns a repository backed by the embedded prompt document.
func Default() *Repository {
	return New(defaultDoc)
}

// New creates a repository from a markdown document.
func New(doc string) *Repository {
	return &Repository{doc: doc}
}

// Load creates a repository by reading a markdown document from r.
func Load(r io.Reader) (*Repository, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return New(string(data)), nil
}

// Get resolves a prompt by heading name. The lookup is case-insensitive.
// A missing heading is logged and returns an empty string rather than
// failing the caller.
func (r *Repository) Get(name string) string {
	re, err := regexp.Compile(`(?i)####\s*` + regexp.QuoteMeta(name) + `\s*([^#]+)`)
	if err != nil {
		log.Error("invalid prompt name", "name", name, "error", err)
		return ""
	}

	match := re.FindStringSubmatch(r.doc)
	if match == nil {
		log.Error("prompt not found", "name", name)
		return ""
	}

	return strings.TrimSpace(match[1])
}
