// Package template resolves message variable mappings against customer
// snapshots and renders message bodies for previews.
package template

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/voyagerhq/voyager/pkg/models"
)

// Issue records a mapping that fell back to its static value, for the
// activity log.
type Issue struct {
	Variable string `json:"variable"`
	Reason   string `json:"reason"`
}

// ResolveVariables maps every configured template variable to a concrete
// string. A source that yields empty or undefined falls back to the
// mapping's static fallback: a variable is never sent as its own
// placeholder token.
func ResolveVariables(
	mappings []models.VariableMapping,
	snapshot *models.CustomerSnapshot,
) (map[string]string, []Issue) {
	values := make(map[string]string, len(mappings))

	var issues []Issue

	for _, mapping := range mappings {
		value, ok := snapshot.Lookup(mapping.Source)
		rendered := stringify(value)

		if !ok || rendered == "" {
			values[mapping.Variable] = mapping.Fallback

			reason := "source yielded empty value"
			if !ok {
				reason = "source path not found"
			}

			issues = append(issues, Issue{Variable: mapping.Variable, Reason: reason})

			continue
		}

		values[mapping.Variable] = rendered
	}

	return values, issues
}

// RenderBody substitutes resolved variables into a template body using
// {{.var}} placeholders. Used for previews and the activity log; the
// provider receives the structured template id + variables, not the
// rendered text.
func RenderBody(body string, variables map[string]string) (string, error) {
	tmpl, err := template.New("body").Option("missingkey=zero").Parse(body)
	if err != nil {
		return "", fmt.Errorf("failed to parse template body: %w", err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, variables); err != nil {
		return "", fmt.Errorf("failed to render template body: %w", err)
	}

	return buf.String(), nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
