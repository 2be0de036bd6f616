package agentcore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileTemplatesRender(t *testing.T) {
	dir := t.TempDir()
	content := "Today is {{.Weekday}} {{.Date}}. Answer this: {{.Question}}"
	if err := os.WriteFile(filepath.Join(dir, "math.tmpl"), []byte(content), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	fixed := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)
	ft := &FileTemplates{Root: dir, Now: func() time.Time { return fixed }}

	out, err := ft.Render("math.tmpl", "what is 2 plus 2")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "Friday 2026-07-31") {
		t.Errorf("date context not substituted: %q", out)
	}
	if !strings.Contains(out, "what is 2 plus 2") {
		t.Errorf("question not substituted: %q", out)
	}
}

func TestFileTemplatesMissingFile(t *testing.T) {
	ft := &FileTemplates{Root: t.TempDir()}
	if _, err := ft.Render("nope.tmpl", "q"); err == nil {
		t.Fatal("expected error for missing template")
	}
}
