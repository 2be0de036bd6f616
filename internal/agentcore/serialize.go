package agentcore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nodalflow/voxplane/internal/textnorm"
	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// doNotSerialize lists the Job fields excluded from a serialized dump.
// Only large/derived or already-durable fields are skipped; the rest
// round-trips as-is.
var doNotSerialize = map[string]bool{
	"artifacts":    true,
	"cost_summary": true,
}

// SerializeJob writes job to
// {logDir}/{topic}-{truncated question}-{timestamp}.json, excluding the
// doNotSerialize fields, with subtopic optionally appended to the
// topic.
func SerializeJob(logDir, topic, subtopic string, job *voxmodels.Job, at time.Time) (string, error) {
	if subtopic != "" {
		topic = topic + "-" + subtopic
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("agentcore: marshal job for serialization: %w", err)
	}
	var state map[string]json.RawMessage
	if err := json.Unmarshal(payload, &state); err != nil {
		return "", fmt.Errorf("agentcore: decode job state: %w", err)
	}
	for field := range doNotSerialize {
		delete(state, field)
	}
	trimmed, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", fmt.Errorf("agentcore: re-encode trimmed state: %w", err)
	}

	question := job.Question
	if len(question) > 96 {
		question = question[:96]
	}
	questionSlug := strings.ReplaceAll(textnorm.Canonical(question), " ", "-")

	filename := fmt.Sprintf("%s-%s-%d-%02d-%02d-%02d-%02d-%02d.json",
		topic, questionSlug, at.Year(), at.Month(), at.Day(), at.Hour(), at.Minute(), at.Second())
	path := filepath.Join(logDir, filename)

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", fmt.Errorf("agentcore: create log dir: %w", err)
	}
	if err := os.WriteFile(path, trimmed, 0o644); err != nil {
		return "", fmt.Errorf("agentcore: write serialized job: %w", err)
	}
	return path, nil
}
