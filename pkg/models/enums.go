package models

// SessionStatus represents the lifecycle state of a deliberation session.
type SessionStatus string

// Session status constants.
const (
	StatusCreated   SessionStatus = "created"
	StatusRunning   SessionStatus = "running"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusStopped   SessionStatus = "stopped"
	StatusError     SessionStatus = "error"
)

// Terminal reports whether the status is sticky: no further iterations run
// unless an explicit re-iterate call re-opens the session.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusError:
		return true
	}
	return false
}

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusPaused, StatusCompleted, StatusStopped, StatusError:
		return true
	}
	return false
}

// StopReason records why a session left the Running state.
type StopReason string

// Stop reason constants.
const (
	StopReasonNone                 StopReason = "none"
	StopReasonFinalMarkerDetected  StopReason = "final_marker_detected"
	StopReasonUserStopped          StopReason = "user_stopped"
	StopReasonMaxIterationsReached StopReason = "max_iterations_reached"
	StopReasonReviewerApproved     StopReason = "reviewer_approved"
	StopReasonError                StopReason = "error"
)

// RunMode selects between continuous and single-step iteration.
type RunMode string

// Run mode constants.
const (
	RunModeAuto RunMode = "auto"
	RunModeStep RunMode = "step"
)

// Valid reports whether m is a known run mode.
func (m RunMode) Valid() bool {
	return m == RunModeAuto || m == RunModeStep
}

// Role is the chat role of a persisted message.
type Role string

// Message role constants.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// AuthorCreator is the author value for messages produced by the Creator
// persona. Reviewer messages carry the reviewer's configured id instead.
const AuthorCreator = "Creator"

// ProviderKind identifies the wire dialect of a configured model endpoint.
type ProviderKind string

// Provider kind constants.
const (
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAzure     ProviderKind = "azure"
	ProviderGoogle    ProviderKind = "google"
	ProviderXAI       ProviderKind = "xai"
	ProviderAnthropic ProviderKind = "anthropic"
)

// Valid reports whether p is a known provider kind.
func (p ProviderKind) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderAzure, ProviderGoogle, ProviderXAI, ProviderAnthropic:
		return true
	}
	return false
}
