package voxmodels

import "time"

// IOLogRow is one append-only interaction record.
type IOLogRow struct {
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Timestamp time.Time `json:"-"`

	InputType string `json:"input_type"`

	Input          string    `json:"input"`
	InputEmbedding []float32 `json:"input_embedding,omitempty"`

	OutputRaw string `json:"output_raw"`

	OutputFinal          string    `json:"output_final"`
	OutputFinalEmbedding []float32 `json:"output_final_embedding,omitempty"`

	SolutionPath *string `json:"solution_path,omitempty"`
}

// NewIOLogRow stamps the split date/time fields from a timestamp.
func NewIOLogRow(ts time.Time, inputType, input, outputRaw, outputFinal string) IOLogRow {
	return IOLogRow{
		Date:        ts.Format("2006-01-02"),
		Time:        ts.Format("15:04:05"),
		Timestamp:   ts,
		InputType:   inputType,
		Input:       input,
		OutputRaw:   outputRaw,
		OutputFinal: outputFinal,
	}
}
