// Package skillrouter implements the engine's optional skill-routing hint
// (§4.6.2's `skill_router.route_best(user_text)`): a pre-planning match
// against registered skills that, above threshold, prepends a system hint
// to the session before the first planner call of an execution.
package skillrouter

import (
	"strings"
	"sync"

	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// MatchReason names why a skill matched, surfaced for observability.
type MatchReason string

const (
	ReasonKeyword MatchReason = "keyword"
	ReasonAlways  MatchReason = "always"
)

// Skill is one routable skill: its keyword surface and the system-prompt
// hint to inject on a match.
type Skill struct {
	ID          string
	Name        string
	Keywords    []string
	Hint        string
	Tools       []string
	Always      bool // always matches at score 1.0, bypassing keyword scoring
}

// Config configures a Router.
type Config struct {
	// Threshold is the minimum score route_best requires before a match
	// counts (see pkg/models.SkillMatch's doc comment).
	Threshold float64
}

// DefaultThreshold matches a single strong keyword hit.
const DefaultThreshold = 0.34

// Router holds the registered skill set behind a read-biased lock — reads
// (RouteBest, called once per execution) vastly outnumber writes
// (Register/Unregister, called at boot or on skill reload).
type Router struct {
	mu        sync.RWMutex
	skills    map[string]*Skill
	threshold float64
}

// New creates a Router. cfg.Threshold <= 0 uses DefaultThreshold.
func New(cfg Config) *Router {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Router{skills: make(map[string]*Skill), threshold: threshold}
}

// Register adds or replaces a skill.
func (r *Router) Register(s *Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[s.ID] = s
}

// Unregister removes a skill by ID.
func (r *Router) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.skills, id)
}

// RouteBest scores every registered skill against userText and returns the
// single best match, if any clears the configured threshold. A nil result
// is benign per pkg/models.SkillMatch's doc comment — the caller proceeds
// without a hint.
func (r *Router) RouteBest(userText string) (*models.SkillMatch, MatchReason) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Skill
	var bestScore float64
	var bestReason MatchReason

	lower := strings.ToLower(userText)
	for _, s := range r.skills {
		if s.Always {
			if best == nil || bestScore < 1.0 {
				best, bestScore, bestReason = s, 1.0, ReasonAlways
			}
			continue
		}
		score := keywordScore(lower, s.Keywords)
		if score > bestScore {
			best, bestScore, bestReason = s, score, ReasonKeyword
		}
	}

	if best == nil || bestScore < r.threshold {
		return nil, ""
	}
	return &models.SkillMatch{
		SkillID:   best.ID,
		SkillName: best.Name,
		Score:     bestScore,
		Hint:      best.Hint,
		Tools:     best.Tools,
	}, bestReason
}

// keywordScore is the fraction of a skill's keywords found as a
// case-insensitive substring of text, in [0,1]. Empty keyword lists never
// match (score 0), so a misconfigured skill is inert rather than
// universally eligible.
func keywordScore(lowerText string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	hits := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowerText, strings.ToLower(kw)) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}
