package orchestrator

import (
	"fmt"
	"strings"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/provider"
)

// PromptBuilder composes the ordered message lists sent to the Creator and
// to each reviewer. Stateless — all state comes from parameters.
type PromptBuilder struct {
	// ContextTurnsToSend bounds how much recent conversation the Creator
	// sees; reviewers see half as many of their own prior critiques.
	ContextTurnsToSend int
	// MaxPromptChars clamps any single system/user message.
	MaxPromptChars int
	// MaxDraftChars clamps the draft embedded in review requests.
	MaxDraftChars int
}

// Builder defaults. Applied by NewPromptBuilder for zero fields.
const (
	DefaultContextTurnsToSend = 8
	DefaultMaxPromptChars     = 24000
	DefaultMaxDraftChars      = 16000
)

func NewPromptBuilder(contextTurns, maxPromptChars, maxDraftChars int) *PromptBuilder {
	if contextTurns <= 0 {
		contextTurns = DefaultContextTurnsToSend
	}
	if maxPromptChars <= 0 {
		maxPromptChars = DefaultMaxPromptChars
	}
	if maxDraftChars <= 0 {
		maxDraftChars = DefaultMaxDraftChars
	}
	return &PromptBuilder{
		ContextTurnsToSend: contextTurns,
		MaxPromptChars:     maxPromptChars,
		MaxDraftChars:      maxDraftChars,
	}
}

const safetyReminder = "Important: never disclose secrets, credentials, API keys, or private " +
	"personal data in your output, and never fabricate facts, citations, or quotations. " +
	"If you are unsure about a fact, say so explicitly."

const reviewerRubric = "You are reviewing a draft. Identify concrete issues and request the " +
	"revisions needed to fix them. Be specific: quote the passage you object to and say what " +
	"must change. Include the exact token " + ApprovalToken + " in your review only if the " +
	"draft is ready for publication as-is; otherwise do not include it anywhere in your reply."

// topicBlock frames the session topic. The same block serves the Creator
// (what to write about) and reviewers (what to evaluate against).
func topicBlock(topic string, forReview bool) string {
	var b strings.Builder
	if forReview {
		b.WriteString("Evaluate the draft against the following topic:\n")
	} else {
		b.WriteString("The content must address the following topic:\n")
	}
	b.WriteString("--- TOPIC ---\n")
	b.WriteString(topic)
	b.WriteString("\n--- END TOPIC ---")
	return b.String()
}

// BuildCreatorMessages assembles the Creator's conversation for one
// iteration: root prompt, safety reminder, optional topic block, the recent
// context window, then the drafting or revision instruction.
//
// Within the context window, Creator messages become assistant turns and
// reviewer messages become user turns prefixed with the reviewer's display
// name, so the Creator can attribute each piece of feedback.
func (b *PromptBuilder) BuildCreatorMessages(
	sess *models.Session,
	recent []models.Message,
	iteration int,
	pendingInstruction string,
) []provider.Message {
	msgs := []provider.Message{
		{Role: models.RoleSystem, Content: b.clampPrompt(sess.CreatorConfig.RootPrompt)},
		{Role: models.RoleSystem, Content: safetyReminder},
	}
	if sess.Topic != "" {
		msgs = append(msgs, provider.Message{Role: models.RoleSystem, Content: b.clampPrompt(topicBlock(sess.Topic, false))})
	}

	for _, m := range tail(recent, b.ContextTurnsToSend) {
		if m.Author == models.AuthorCreator {
			msgs = append(msgs, provider.Message{Role: models.RoleAssistant, Content: m.Content})
			continue
		}
		name := m.ReviewerDisplayName
		if name == "" {
			name = m.Author
		}
		msgs = append(msgs, provider.Message{
			Role:    models.RoleUser,
			Content: name + " feedback:\n" + m.Content,
		})
	}

	var instruction string
	if iteration == 1 {
		if sess.Topic != "" {
			instruction = "Write the first draft addressing the topic above."
		} else {
			instruction = "Write the first draft."
		}
	} else {
		instruction = "Revise your draft, incorporating all of the reviewer feedback above."
	}
	if pendingInstruction != "" {
		instruction = pendingInstruction + "\n\n" + instruction
	}
	msgs = append(msgs, provider.Message{Role: models.RoleUser, Content: b.clampPrompt(instruction)})
	return msgs
}

// BuildReviewerMessages assembles one reviewer's conversation: root prompt,
// rubric, safety reminder, optional topic block, the reviewer's own prior
// critiques, then the draft under review.
func (b *PromptBuilder) BuildReviewerMessages(
	sess *models.Session,
	reviewer *models.ReviewerConfig,
	ownCritiques []models.Message,
	draft string,
) []provider.Message {
	msgs := []provider.Message{
		{Role: models.RoleSystem, Content: b.clampPrompt(reviewer.RootPrompt)},
		{Role: models.RoleSystem, Content: reviewerRubric},
		{Role: models.RoleSystem, Content: safetyReminder},
	}
	if sess.Topic != "" {
		msgs = append(msgs, provider.Message{Role: models.RoleSystem, Content: b.clampPrompt(topicBlock(sess.Topic, true))})
	}

	for _, m := range tail(ownCritiques, b.ContextTurnsToSend/2) {
		msgs = append(msgs, provider.Message{Role: models.RoleAssistant, Content: m.Content})
	}

	msgs = append(msgs, provider.Message{
		Role:    models.RoleUser,
		Content: "Please review the following draft:\n\n" + b.clampDraft(draft),
	})
	return msgs
}

// SynthesizeInstruction turns a post-completion feedback request into the
// user instruction injected into the next Creator prompt.
func SynthesizeInstruction(req *models.IterateWithFeedbackRequest) string {
	var b strings.Builder
	b.WriteString("The user reviewed your completed draft and requested further changes.")
	if req.Tone != "" {
		fmt.Fprintf(&b, "\nAdjust the tone to be %s.", req.Tone)
	}
	if req.Length != "" {
		fmt.Fprintf(&b, "\nAdjust the length: %s.", req.Length)
	}
	if req.Audience != "" {
		fmt.Fprintf(&b, "\nWrite for this audience: %s.", req.Audience)
	}
	b.WriteString("\nUser comments:\n")
	b.WriteString(req.Comments)
	return b.String()
}

func (b *PromptBuilder) clampPrompt(s string) string { return clamp(s, b.MaxPromptChars) }
func (b *PromptBuilder) clampDraft(s string) string  { return clamp(s, b.MaxDraftChars) }

// clamp truncates on a rune boundary, keeping the head of the text.
func clamp(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "\n[...truncated]"
}

// tail returns the last n elements in original order.
func tail(msgs []models.Message, n int) []models.Message {
	if n <= 0 {
		return nil
	}
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
