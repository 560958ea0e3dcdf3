// Package template renders step command arguments against the state of a workflow.
package template

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// StepContext builds the data a step argument is rendered with:
//
//	.workflow.id  .workflow.name  .step.name  .step.index
//	.outputs.<step>  .metadata.<key>  .env.<VAR>
func StepContext(workflowID, workflowName, step string, index int, outputs, metadata map[string]any) map[string]any {
	return map[string]any{
		"workflow": map[string]any{
			"id":   workflowID,
			"name": workflowName,
		},
		"step": map[string]any{
			"name":  step,
			"index": index,
		},
		"outputs":  outputs,
		"metadata": metadata,
		"env":      getEnvVars(),
	}
}

// NeedsTemplating reports whether input contains a template action.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// Render executes templateStr against data. Referencing a key that does not exist is
// an error rather than "<no value>".
func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("argument").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"json": func(v any) (string, error) {
				b, err := json.Marshal(v)

				return string(b), err
			},
			"quote": strconv.Quote,
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// RenderAll renders every argument that needs it and leaves the others untouched.
func RenderAll(args []string, data any) ([]string, error) {
	rendered := make([]string, len(args))

	for i, arg := range args {
		if !NeedsTemplating(arg) {
			rendered[i] = arg

			continue
		}

		out, err := Render(arg, data)
		if err != nil {
			return nil, err
		}

		rendered[i] = out
	}

	return rendered, nil
}

// Decode interprets command output: JSON objects and arrays are decoded, anything else
// is kept as trimmed text.
func Decode(output string) any {
	result := strings.TrimSpace(output)

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var decoded any
		if err := json.Unmarshal([]byte(result), &decoded); err == nil {
			return decoded
		}
	}

	return result
}

// getEnvVars returns environment variables as a map.
func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
