package models

import "fmt"

// CreateSessionRequest contains the fields for creating a deliberation session.
// Creator and reviewer configurations are snapshotted into the session row.
type CreateSessionRequest struct {
	Name                   string           `json:"name"`
	Topic                  string           `json:"topic,omitempty"`
	MaxIterations          int              `json:"max_iterations"`
	StopMarker             string           `json:"stop_marker,omitempty"`
	StopOnReviewerApproved *bool            `json:"stop_on_reviewer_approved,omitempty"`
	RunMode                RunMode          `json:"run_mode,omitempty"`
	Creator                PersonaConfig    `json:"creator"`
	Reviewers              []ReviewerConfig `json:"reviewers"`
}

// Validate checks structural and numeric constraints. Defaults for omitted
// fields are applied by the session service, not here.
func (r *CreateSessionRequest) Validate() error {
	if r.MaxIterations < 0 {
		return fmt.Errorf("max_iterations: must not be negative, got %d", r.MaxIterations)
	}
	if r.RunMode != "" && !r.RunMode.Valid() {
		return fmt.Errorf("run_mode: unknown value %q", r.RunMode)
	}
	if err := r.Creator.Validate(); err != nil {
		return fmt.Errorf("creator: %w", err)
	}
	if len(r.Reviewers) == 0 {
		return fmt.Errorf("reviewers: at least one reviewer is required")
	}
	seen := make(map[string]bool, len(r.Reviewers))
	for i := range r.Reviewers {
		rev := &r.Reviewers[i]
		if err := rev.Validate(); err != nil {
			return fmt.Errorf("reviewers[%d]: %w", i, err)
		}
		if seen[rev.ID] {
			return fmt.Errorf("reviewers[%d]: duplicate id %q", i, rev.ID)
		}
		seen[rev.ID] = true
	}
	return nil
}

// IterateWithFeedbackRequest re-opens a completed session for additional
// iterations guided by user commentary.
type IterateWithFeedbackRequest struct {
	Comments                string `json:"comments"`
	Tone                    string `json:"tone,omitempty"`
	Length                  string `json:"length,omitempty"`
	Audience                string `json:"audience,omitempty"`
	MaxAdditionalIterations int    `json:"max_additional_iterations"`
}

// Validate enforces the non-empty comment and the [1,3] additional-iteration
// window.
func (r *IterateWithFeedbackRequest) Validate() error {
	if r.Comments == "" {
		return fmt.Errorf("comments: required")
	}
	if r.MaxAdditionalIterations < 1 || r.MaxAdditionalIterations > 3 {
		return fmt.Errorf("max_additional_iterations: must be in [1, 3], got %d", r.MaxAdditionalIterations)
	}
	return nil
}

// AttachFeedbackRequest attaches user feedback text to a specific iteration's
// feedback round.
type AttachFeedbackRequest struct {
	Iteration int    `json:"iteration"`
	Feedback  string `json:"feedback"`
}

// Validate checks the iteration reference and the feedback body.
func (r *AttachFeedbackRequest) Validate() error {
	if r.Iteration < 1 {
		return fmt.Errorf("iteration: must be >= 1, got %d", r.Iteration)
	}
	if r.Feedback == "" {
		return fmt.Errorf("feedback: required")
	}
	return nil
}
