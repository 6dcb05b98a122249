package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

var promptFuncs = template.FuncMap{
	"default": func(fallback, val any) any {
		if val == nil || val == "" {
			return fallback
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
	"join": func(sep string, items []any) string {
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, sep)
	},
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

// parsed prompt templates keyed by their source text
var promptCache sync.Map

// RenderTemplate renders text as a text/template with state. Text without
// template markers is returned unchanged. Parsed templates are cached, so
// rendering the same instruction for every request parses it once.
func RenderTemplate(text string, state map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := promptTemplate(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, state); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func promptTemplate(text string) (*template.Template, error) {
	if t, ok := promptCache.Load(text); ok {
		return t.(*template.Template), nil
	}
	t, err := template.New("prompt").Funcs(promptFuncs).Parse(text)
	if err != nil {
		return nil, err
	}
	actual, _ := promptCache.LoadOrStore(text, t)
	return actual.(*template.Template), nil
}
