package conversation

import (
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"
)

// RenderTemplate executes tmpl as a text/template with the sprig functions available.
// Templates without actions are returned unchanged.
func RenderTemplate(tmpl string, data any) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}
	t, err := template.New("prompt").Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", errors.Wrap(err, "could not parse prompt template")
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", errors.Wrap(err, "could not render prompt template")
	}
	return sb.String(), nil
}
