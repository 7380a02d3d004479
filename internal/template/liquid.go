package template

import (
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/stiffinWanjohi/bulkmail/internal/recipient"
)

// Liquid renders templates with the Liquid language. Every column is bound
// as a top-level variable and the whole row is also available as
// recipient["column name"] for names that are not valid identifiers.
type Liquid struct {
	engine *liquid.Engine
	cache  sync.Map // template source -> *liquid.Template
}

// NewLiquid creates a Liquid renderer with the default filter set.
func NewLiquid() *Liquid {
	engine := liquid.NewEngine()

	// {{ first_name | default: "Friend" }}
	engine.RegisterFilter("default", func(value any, fallback string) any {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})
	engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})
	engine.RegisterFilter("titlecase", func(s string) string {
		words := strings.Fields(strings.ToLower(s))
		for i, w := range words {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
		return strings.Join(words, " ")
	})

	return &Liquid{engine: engine}
}

func (l *Liquid) Name() string { return EngineLiquid }

func (l *Liquid) Render(tmpl string, rec recipient.Record) (string, error) {
	tpl, err := l.parse(tmpl)
	if err != nil {
		return "", err
	}

	vars := rec.Vars()
	bindings := make(map[string]any, len(vars)+1)
	row := make(map[string]any, len(vars))
	for k, v := range vars {
		bindings[k] = v
		row[k] = v
	}
	bindings["recipient"] = row

	out, rerr := tpl.RenderString(bindings)
	if rerr != nil {
		return "", fmt.Errorf("render template: %w", rerr)
	}
	return out, nil
}

func (l *Liquid) parse(tmpl string) (*liquid.Template, error) {
	if cached, ok := l.cache.Load(tmpl); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := l.engine.ParseString(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	l.cache.Store(tmpl, tpl)
	return tpl, nil
}
