// Package contextpack selects and shapes a SessionContext's message history
// into the Turn sequence a planner.Request carries, staying within a char
// budget (a cheap proxy for tokens) the way internal/agent/context's Packer
// does for the teacher's richer Message type.
package contextpack

import (
	"github.com/first-fluke/cratos-sub006/internal/planner"
	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// Options configures how history is packed into a planner request.
type Options struct {
	// MaxMessages is the hard cap on number of history messages included,
	// not counting the system hint or incoming user turn.
	MaxMessages int

	// MaxChars is the approximate character budget for packed history.
	MaxChars int
}

// DefaultOptions mirrors internal/agent/context's DefaultPackOptions.
func DefaultOptions() Options {
	return Options{
		MaxMessages: 60,
		MaxChars:    30000,
	}
}

// Packer builds planner.Turn sequences from a SessionContext.
type Packer struct {
	opts Options
}

// NewPacker creates a Packer. Non-positive fields fall back to defaults.
func NewPacker(opts Options) *Packer {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 60
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 30000
	}
	return &Packer{opts: opts}
}

// Pack selects messages from session's history (most recent first, until
// MaxMessages or MaxChars is hit), prepends any skill-router system hint,
// and appends the incoming user text as the final turn.
//
// Tool-call/result turns accumulated mid-execution (see planner.Turn) are
// passed separately via liveTurns and always included in full — they are
// never subject to truncation, since they represent the in-flight
// tool-use round trip the planner is actively resolving, not settled
// history.
func (p *Packer) Pack(session *models.SessionContext, systemHint string, incomingText string, liveTurns []planner.Turn) []planner.Turn {
	var result []planner.Turn

	if systemHint != "" {
		result = append(result, planner.Turn{Role: models.RoleSystem, Content: systemHint})
	}

	if session != nil {
		result = append(result, p.selectHistory(session.Messages, incomingText)...)
	}

	if incomingText != "" {
		result = append(result, planner.Turn{Role: models.RoleUser, Content: incomingText})
	}

	result = append(result, liveTurns...)

	return result
}

// selectHistory walks session messages from the end backwards, accepting
// messages until either budget is exhausted, then reverses back into
// chronological order. incomingText's size is reserved up front so the
// incoming turn never gets crowded out by history.
func (p *Packer) selectHistory(messages []models.Message, incomingText string) []planner.Turn {
	totalChars := len(incomingText)
	totalMsgs := 0
	if incomingText != "" {
		totalMsgs++
	}

	selectedReverse := make([]models.Message, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		msgChars := len(m.Content)

		if totalMsgs+1 > p.opts.MaxMessages {
			break
		}
		if totalChars+msgChars > p.opts.MaxChars {
			break
		}

		selectedReverse = append(selectedReverse, m)
		totalMsgs++
		totalChars += msgChars
	}

	turns := make([]planner.Turn, len(selectedReverse))
	for i, m := range selectedReverse {
		turns[len(selectedReverse)-1-i] = planner.Turn{Role: m.Role, Content: m.Content}
	}
	return turns
}
