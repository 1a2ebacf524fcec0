package toolrunner

import (
	"strings"

	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// Permission is the policy layer's verdict for one tool call by one
// calling principal/channel.
type Permission int

const (
	Allowed Permission = iota
	RequiresConfirmation
	Denied
)

// Verdict carries a Permission plus, for Denied, the reason.
type Verdict struct {
	Permission Permission
	Reason     string
}

// Policy authorizes tool calls for a calling principal. Patterns follow
// the allow/require-approval/deny precedence: deny beats allow beats
// require-approval beats the default.
type Policy struct {
	Allow            []string
	Deny             []string
	RequireApproval  []string
	RiskThreshold    models.RiskLevel // tools at or above this risk require approval unless explicitly allowed
	DefaultPermitted bool             // if true, unmatched tools below the risk threshold are Allowed; else RequiresConfirmation
}

// DefaultPolicy denies nothing explicitly, requires approval for
// Medium/High risk tools, and allows Low risk tools by default.
func DefaultPolicy() Policy {
	return Policy{RiskThreshold: models.RiskMedium, DefaultPermitted: true}
}

// Evaluate returns the permission verdict for a tool call against this
// policy and the tool's declared risk level.
func (p Policy) Evaluate(toolName string, risk models.RiskLevel) Verdict {
	if matchAny(p.Deny, toolName) {
		return Verdict{Permission: Denied, Reason: "tool in deny list"}
	}
	if matchAny(p.Allow, toolName) {
		return Verdict{Permission: Allowed}
	}
	if matchAny(p.RequireApproval, toolName) {
		return Verdict{Permission: RequiresConfirmation, Reason: "tool requires approval"}
	}
	if riskAtOrAbove(risk, p.RiskThreshold) {
		return Verdict{Permission: RequiresConfirmation, Reason: "risk level requires approval"}
	}
	if p.DefaultPermitted {
		return Verdict{Permission: Allowed}
	}
	return Verdict{Permission: RequiresConfirmation, Reason: "no matching rule, default requires approval"}
}

func riskAtOrAbove(risk, threshold models.RiskLevel) bool {
	order := map[models.RiskLevel]int{models.RiskLow: 0, models.RiskMedium: 1, models.RiskHigh: 2}
	return order[risk] >= order[threshold]
}

// matchAny reports whether toolName matches any pattern: exact match,
// "prefix*", "*suffix", or "*" for everything.
func matchAny(patterns []string, toolName string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if pattern == "*" || pattern == toolName {
			return true
		}
		if strings.HasSuffix(pattern, "*") && strings.HasPrefix(toolName, strings.TrimSuffix(pattern, "*")) {
			return true
		}
		if strings.HasPrefix(pattern, "*") && strings.HasSuffix(toolName, strings.TrimPrefix(pattern, "*")) {
			return true
		}
	}
	return false
}
