package model

import "time"

// EnrichmentMetadata is the provenance attached to one fill of one cell.
// Entries are appended per fill and never removed.
type EnrichmentMetadata struct {
	ID             string    `json:"id,omitempty"`
	ColumnID       string    `json:"columnId"`
	ReasoningSteps []string  `json:"reasoningSteps"`
	Sources        []string  `json:"sources"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Provenance is the metadata block the synthesizer returns alongside a result.
type Provenance struct {
	ReasoningSteps []string `json:"reasoningSteps"`
	Sources        []string `json:"sources"`
}

// ForColumn stamps the provenance into an EnrichmentMetadata entry.
func (p Provenance) ForColumn(columnID string, at time.Time) EnrichmentMetadata {
	steps := p.ReasoningSteps
	if steps == nil {
		steps = []string{}
	}
	sources := p.Sources
	if sources == nil {
		sources = []string{}
	}
	return EnrichmentMetadata{
		ColumnID:       columnID,
		ReasoningSteps: steps,
		Sources:        sources,
		CreatedAt:      at,
	}
}
