package models

import "time"

// Session is a persisted deliberation session: one Creator persona plus an
// ordered list of Reviewer personas iterating over a topic until a stop
// condition fires.
type Session struct {
	ID     string `gorm:"primaryKey;column:session_id;size:64" json:"session_id"`
	Name   string `gorm:"size:255" json:"name"`
	Topic  string `gorm:"type:text" json:"topic"`
	Status SessionStatus `gorm:"size:32;index" json:"status"`
	StopReason StopReason `gorm:"size:32" json:"stop_reason"`

	MaxIterations    int `json:"max_iterations"`
	CurrentIteration int `json:"current_iteration"`
	// FeedbackVersion starts at 1 and is incremented on each post-completion
	// user re-iteration.
	FeedbackVersion int `json:"feedback_version"`

	StopMarker             string  `gorm:"size:64" json:"stop_marker"`
	StopOnReviewerApproved bool    `json:"stop_on_reviewer_approved"`
	RunMode                RunMode `gorm:"size:16" json:"run_mode"`

	// NeedsFinalIteration is set when all reviewers approved and one extra
	// Creator+Reviewers iteration must run before completing. During that
	// extra iteration CurrentIteration may exceed MaxIterations.
	NeedsFinalIteration bool `json:"needs_final_iteration"`

	FinalContent string `gorm:"type:text" json:"final_content"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	// Snapshots taken at creation time — copies, not references.
	CreatorConfig   PersonaConfig    `gorm:"serializer:json;type:text" json:"creator_config"`
	ReviewersConfig []ReviewerConfig `gorm:"serializer:json;type:text" json:"reviewers_config"`

	// PendingInstruction holds the synthesized user instruction from a
	// post-completion re-iterate call, consumed by the next Creator prompt.
	PendingInstruction string `gorm:"type:text" json:"-"`

	// UserEmail is the identity that created the session; provider credentials
	// are resolved against it.
	UserEmail string `gorm:"size:255;index" json:"user_email"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`

	Messages       []Message       `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`
	FeedbackRounds []FeedbackRound `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName pins the table name regardless of gorm pluralization rules.
func (Session) TableName() string { return "sessions" }

// Message is one persisted conversation turn. Messages are append-only; for
// any session and iteration there is exactly one Creator assistant message
// and, when the iteration completed normally, one per reviewer.
type Message struct {
	ID        string `gorm:"primaryKey;column:message_id;size:64" json:"message_id"`
	SessionID string `gorm:"size:64;index:idx_messages_session_iteration" json:"session_id"`
	Role      Role   `gorm:"size:16" json:"role"`
	// Author is AuthorCreator or a reviewer id.
	Author              string    `gorm:"size:128;index" json:"author"`
	Iteration           int       `gorm:"index:idx_messages_session_iteration" json:"iteration"`
	Content             string    `gorm:"type:text" json:"content"`
	ModelUsed           string    `gorm:"size:128" json:"model_used"`
	ReviewerDisplayName string    `gorm:"size:128" json:"reviewer_display_name,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// TableName pins the table name.
func (Message) TableName() string { return "messages" }

// FeedbackRound is the per-iteration record of the Creator draft and every
// reviewer's verdict. Created at most once per (session, iteration).
type FeedbackRound struct {
	ID        string `gorm:"primaryKey;column:feedback_round_id;size:64" json:"feedback_round_id"`
	SessionID string `gorm:"size:64;uniqueIndex:idx_rounds_session_iteration" json:"session_id"`
	Iteration int    `gorm:"uniqueIndex:idx_rounds_session_iteration" json:"iteration"`

	DraftContent   string     `gorm:"type:text" json:"draft_content"`
	UserFeedback   *string    `gorm:"type:text" json:"user_feedback,omitempty"`
	UserFeedbackAt *time.Time `json:"user_feedback_at,omitempty"`

	// AllReviewersApproved is true iff every summary approved and the list is
	// non-empty.
	AllReviewersApproved bool              `json:"all_reviewers_approved"`
	ReviewerSummaries    []ReviewerSummary `gorm:"serializer:json;type:text" json:"reviewer_summaries"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName pins the table name.
func (FeedbackRound) TableName() string { return "feedback_rounds" }

// ConfiguredModel is one entry of a user's model roster. The API key is
// stored only in sealed form; it is sealed before write and unsealed on read
// by the credential store.
type ConfiguredModel struct {
	ID           string       `gorm:"primaryKey;size:64" json:"id"`
	UserEmail    string       `gorm:"size:255;uniqueIndex:idx_models_user_name" json:"user_email"`
	ModelName    string       `gorm:"size:128;uniqueIndex:idx_models_user_name" json:"model_name"`
	DisplayName  string       `gorm:"size:128" json:"display_name,omitempty"`
	Endpoint     string       `gorm:"size:512" json:"endpoint"`
	Provider     ProviderKind `gorm:"size:32" json:"provider"`
	EncryptedKey string       `gorm:"type:text" json:"-"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TableName pins the table name.
func (ConfiguredModel) TableName() string { return "configured_models" }

// UserSettings holds per-user preferences, keyed by email.
type UserSettings struct {
	UserID             string    `gorm:"primaryKey;size:255" json:"user_id"`
	NativeAgentModelID *string   `gorm:"size:64" json:"native_agent_model_id,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName pins the table name.
func (UserSettings) TableName() string { return "user_settings" }
