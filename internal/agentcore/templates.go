package agentcore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"
)

// FileTemplates loads prompt templates from a root directory and renders
// them with the question plus current date/time context. It satisfies
// PromptTemplates.
type FileTemplates struct {
	Root string
	Now  func() time.Time
}

// templateContext is what a prompt template file can reference.
type templateContext struct {
	Question string
	Date     string
	Time     string
	Weekday  string
}

// Render reads Root/templatePath, parses it as a text/template, and
// substitutes the question and current date/time fields.
func (t *FileTemplates) Render(templatePath, question string) (string, error) {
	data, err := os.ReadFile(filepath.Join(t.Root, templatePath))
	if err != nil {
		return "", fmt.Errorf("agentcore: read template %s: %w", templatePath, err)
	}

	tmpl, err := template.New(filepath.Base(templatePath)).Parse(string(data))
	if err != nil {
		return "", fmt.Errorf("agentcore: parse template %s: %w", templatePath, err)
	}

	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	at := now()

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, templateContext{
		Question: question,
		Date:     at.Format("2006-01-02"),
		Time:     at.Format("15:04:05"),
		Weekday:  at.Weekday().String(),
	})
	if err != nil {
		return "", fmt.Errorf("agentcore: render template %s: %w", templatePath, err)
	}
	return buf.String(), nil
}
