// Package template renders step configuration values against run state.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/vessoa/paperwork/pkg/models"
)

// RenderWithContext renders a template string against the run's accumulated
// state. Templates see the flat source data under .source, generated
// documents under .documents, signature descriptors under .signatures, run
// identifiers under .run, plus .metadata and .env.
func RenderWithContext(input string, executionCtx *models.ExecutionContext) (any, error) {
	return Render(input, contextData(executionCtx))
}

func contextData(executionCtx *models.ExecutionContext) map[string]any {
	return map[string]any{
		"source":     executionCtx.SourceData,
		"documents":  executionCtx.GeneratedDocuments,
		"signatures": executionCtx.SignatureRequests,
		"metadata":   executionCtx.Metadata,
		"env":        getEnvVars(),
		"run": map[string]any{
			"id":                 executionCtx.RunID,
			"workflow_id":        executionCtx.WorkflowID,
			"source_object_type": executionCtx.SourceObjectType,
			"source_object_id":   executionCtx.SourceObjectID,
		},
	}
}

// RenderString renders like RenderWithContext but always yields a string,
// for recipient lists, subjects, and URLs.
func RenderString(input string, executionCtx *models.ExecutionContext) (string, error) {
	result, err := RenderWithContext(input, executionCtx)
	if err != nil {
		return "", err
	}

	return coerceString(result), nil
}

// RenderStringWith renders like RenderString with extra top-level scopes
// merged over the run state, for per-item expansion.
func RenderStringWith(input string, executionCtx *models.ExecutionContext, extra map[string]any) (string, error) {
	data := contextData(executionCtx)
	for key, value := range extra {
		data[key] = value
	}

	result, err := Render(input, data)
	if err != nil {
		return "", err
	}

	return coerceString(result), nil
}

func coerceString(result any) string {
	if s, ok := result.(string); ok {
		return s
	}

	return fmt.Sprint(result)
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"rand": func(max int) int {
			if max <= 0 {
				return 0
			}
			num := make([]byte, 1)
			_, err := rand.Read(num)
			if err != nil {
				return 0
			}

			return int(num[0]) % max
		},
	}
}

// Parse checks that a template string is well formed without executing it,
// for configuration validation at step load time.
func Parse(templateStr string) (*template.Template, error) {
	return template.New("render").Funcs(templateFuncs()).Parse(templateStr)
}

func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.New("render").Funcs(templateFuncs()).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	// JSON-looking output becomes structured data.
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
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
