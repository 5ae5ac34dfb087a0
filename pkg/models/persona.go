package models

import "fmt"

// PersonaConfig is the generation configuration for a single persona.
// It is snapshotted into the session at creation time; later edits of the
// user's model roster never mutate an in-flight session.
type PersonaConfig struct {
	RootPrompt       string  `json:"root_prompt"`
	ModelName        string  `json:"model_name"`
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"max_output_tokens"`
	TopP             float64 `json:"top_p"`
	PresencePenalty  float64 `json:"presence_penalty"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
}

// Validate checks the numeric ranges accepted by the chat-completions dialects.
func (p *PersonaConfig) Validate() error {
	if p.ModelName == "" {
		return fmt.Errorf("model_name: required")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("temperature: must be in [0, 2], got %v", p.Temperature)
	}
	if p.MaxOutputTokens <= 0 {
		return fmt.Errorf("max_output_tokens: must be positive, got %d", p.MaxOutputTokens)
	}
	if p.TopP < 0 || p.TopP > 1 {
		return fmt.Errorf("top_p: must be in [0, 1], got %v", p.TopP)
	}
	if p.PresencePenalty < -2 || p.PresencePenalty > 2 {
		return fmt.Errorf("presence_penalty: must be in [-2, 2], got %v", p.PresencePenalty)
	}
	if p.FrequencyPenalty < -2 || p.FrequencyPenalty > 2 {
		return fmt.Errorf("frequency_penalty: must be in [-2, 2], got %v", p.FrequencyPenalty)
	}
	return nil
}

// ReviewerConfig is a PersonaConfig plus a stable identity. The id is unique
// within the session; the ordered reviewer list defines reviewer identity
// across iterations.
type ReviewerConfig struct {
	PersonaConfig
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Validate checks reviewer identity on top of the persona ranges.
func (r *ReviewerConfig) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id: required")
	}
	if r.DisplayName == "" {
		return fmt.Errorf("display_name: required")
	}
	return r.PersonaConfig.Validate()
}

// ReviewerSummary is one reviewer's verdict for a completed iteration, stored
// inside a FeedbackRound in reviewer configuration order.
type ReviewerSummary struct {
	ReviewerID   string `json:"reviewer_id"`
	ReviewerName string `json:"reviewer_name"`
	Feedback     string `json:"feedback"`
	Approved     bool   `json:"approved"`
}
