// Package template renders a campaign body for one recipient.
package template

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/recipient"
)

// Engine names accepted by New.
const (
	EnginePlaceholder = "placeholder"
	EngineLiquid      = "liquid"
)

// DefaultBody is the starter template offered for new drafts.
const DefaultBody = "<h1>Hello {{name}}</h1>\n<p>This is your personalized email.</p>"

// Renderer turns a template and a recipient record into a body.
// Implementations must be deterministic and safe for concurrent use.
type Renderer interface {
	Name() string
	Render(tmpl string, rec recipient.Record) (string, error)
}

// New returns the renderer registered under name. An empty name selects
// the placeholder renderer.
func New(name string) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EnginePlaceholder:
		return Placeholder{}, nil
	case EngineLiquid:
		return NewLiquid(), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTemplateEngine, name)
	}
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Placeholders lists the distinct names referenced as {{name}} in tmpl,
// in order of first appearance.
func Placeholders(tmpl string) []string {
	var out []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		if !slices.Contains(out, m[1]) {
			out = append(out, m[1])
		}
	}
	return out
}

// Unknown returns the placeholders in tmpl that are not declared columns.
func Unknown(tmpl string, columns []string) []string {
	var out []string
	for _, p := range Placeholders(tmpl) {
		if !slices.Contains(columns, p) {
			out = append(out, p)
		}
	}
	return out
}
