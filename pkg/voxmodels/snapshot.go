package voxmodels

import "time"

// CodeLine is one line of a persisted solution's source, tagged with the
// language/version it was generated against.
type CodeLine struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Version  string `json:"version"`
}

// EmbeddingSet holds the five fixed-dimensionality vectors a snapshot
// carries, one per text field. A nil slice means "field was
// empty, no embedding computed" — never a zero-valued vector of dimension D.
type EmbeddingSet struct {
	Question        []float32 `json:"question_embedding,omitempty"`
	QuestionGist    []float32 `json:"question_gist_embedding,omitempty"`
	SolutionSummary []float32 `json:"solution_summary_embedding,omitempty"`
	Code            []float32 `json:"code_embedding,omitempty"`
	Thoughts        []float32 `json:"thoughts_embedding,omitempty"`
}

// RuntimeStats tracks amortized execution cost for a cached solution.
type RuntimeStats struct {
	FirstRunMs  int64 `json:"first_run_ms"`
	RunCount    int64 `json:"run_count"`
	TotalMs     int64 `json:"total_ms"`
	MeanRunMs   int64 `json:"mean_run_ms"`
	LastRunMs   int64 `json:"last_run_ms"`
	TimeSavedMs int64 `json:"time_saved_ms"`
}

// SolutionSnapshot is a persisted, embedding-annotated record of a
// successfully answered question.
type SolutionSnapshot struct {
	IDHash string `json:"id_hash"`

	Question             string `json:"question"`
	QuestionGist         string `json:"question_gist,omitempty"`
	SolutionSummary      string `json:"solution_summary,omitempty"`
	Thoughts             string `json:"thoughts,omitempty"`
	CodeExample          string `json:"code_example,omitempty"`
	CodeReturns          string `json:"code_returns,omitempty"`
	Answer               string `json:"answer"`
	AnswerConversational string `json:"answer_conversational,omitempty"`
	RoutingCommand       string `json:"routing_command"`

	Code []CodeLine `json:"code,omitempty"`

	Embeddings EmbeddingSet `json:"embeddings"`

	// SynonymousQuestions maps a normalized question text to the similarity
	// score (0-100) that matched it to this snapshot. Insertion-ordered.
	SynonymousQuestions []SynonymEntry `json:"synonymous_questions,omitempty"`
	SynonymousGists     []SynonymEntry `json:"synonymous_gists,omitempty"`

	// NonSynonymousQuestions prevents re-matching known negatives.
	NonSynonymousQuestions []string `json:"non_synonymous_questions,omitempty"`

	Stats RuntimeStats `json:"stats"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SynonymEntry is one (normalized text, score) pair in a synonym map.
type SynonymEntry struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// HasSynonym reports whether text is already recorded, canonical
// question included (the canonical question is never duplicated into its
// own map).
func (s *SolutionSnapshot) HasSynonym(text string) bool {
	if text == s.Question {
		return true
	}
	for _, e := range s.SynonymousQuestions {
		if e.Text == text {
			return true
		}
	}
	return false
}

// HasGistSynonym is the gist-side equivalent of HasSynonym.
func (s *SolutionSnapshot) HasGistSynonym(text string) bool {
	if text == s.QuestionGist {
		return true
	}
	for _, e := range s.SynonymousGists {
		if e.Text == text {
			return true
		}
	}
	return false
}

// IsKnownNegative reports whether text was previously rejected as a match.
func (s *SolutionSnapshot) IsKnownNegative(text string) bool {
	for _, t := range s.NonSynonymousQuestions {
		if t == text {
			return true
		}
	}
	return false
}
