package template

import (
	"strings"

	"github.com/stiffinWanjohi/bulkmail/internal/recipient"
)

// Placeholder substitutes the literal token {{column}} with the record's
// value for each declared column. Values are inserted as-is and tokens
// that name no column are left intact. Substituted values are not
// scanned again.
type Placeholder struct{}

func (Placeholder) Name() string { return EnginePlaceholder }

func (Placeholder) Render(tmpl string, rec recipient.Record) (string, error) {
	fields := rec.Fields()
	pairs := make([]string, 0, len(fields)*2)
	for _, f := range fields {
		pairs = append(pairs, "{{"+f.Name+"}}", f.Value)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl), nil
}
