package prompts

import (
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/cockroachdb/errors"
)

// ErrMissingInputVariable is returned when a declared variable has no value.
var ErrMissingInputVariable = errors.New("missing input variable")

// PromptTemplate is a Go text/template with the sprig function map.
type PromptTemplate struct {
	Template       string
	InputVariables []string
}

// NewPromptTemplate returns a new prompt template.
func NewPromptTemplate(template string, inputVariables []string) PromptTemplate {
	return PromptTemplate{
		Template:       template,
		InputVariables: inputVariables,
	}
}

// Format renders the template with the values.
// All declared input variables must be present.
func (p PromptTemplate) Format(values map[string]any) (string, error) {
	for _, v := range p.InputVariables {
		if _, ok := values[v]; !ok {
			return "", errors.WithMessagef(ErrMissingInputVariable, "%q", v)
		}
	}
	return RenderTemplate(p.Template, values)
}

// RenderTemplate renders a text template with the sprig function map.
func RenderTemplate(tmpl string, values map[string]any) (string, error) {
	t, err := template.New("prompt").
		Option("missingkey=zero").
		Funcs(sprig.TxtFuncMap()).
		Parse(tmpl)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse template")
	}
	var sb strings.Builder
	if err = t.Execute(&sb, values); err != nil {
		return "", errors.Wrap(err, "failed to render template")
	}
	return sb.String(), nil
}
