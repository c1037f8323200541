package service

import (
	"strings"

	"github.com/sbtc-gateway/warden/core"
)

// ConfidenceScorer classifies how likely a candidate merchant record
// belongs to the same identity as the probing fields. The score is
// advisory; linking always needs explicit confirmation.
type ConfidenceScorer interface {
	Score(candidate *core.Merchant, email, stacksAddress, name string) (core.Confidence, []string)
}

// scoringRule checks one signal against a candidate. Rules run in
// order; the strongest matched tier wins and all matched fields are
// reported.
type scoringRule struct {
	field string
	tier  core.Confidence
	match func(candidate *core.Merchant, email, stacksAddress, name string) bool
}

// RuleScorer evaluates a fixed rule set. Rules are data so individual
// signals can be tested in isolation.
type RuleScorer struct {
	rules []scoringRule
}

// NewRuleScorer returns the default linking heuristics: exact wallet or
// verified-email collision scores high, email local-part or exact name
// overlap scores medium, partial name overlap scores low.
func NewRuleScorer() *RuleScorer {
	return &RuleScorer{rules: []scoringRule{
		{
			field: "stacksAddress",
			tier:  core.ConfidenceHigh,
			match: func(c *core.Merchant, _, addr, _ string) bool {
				return addr != "" && strings.EqualFold(c.StacksAddress, addr)
			},
		},
		{
			field: "email",
			tier:  core.ConfidenceHigh,
			match: func(c *core.Merchant, email, _, _ string) bool {
				return email != "" && !c.HasPlaceholderEmail() && strings.EqualFold(c.Email, email)
			},
		},
		{
			field: "emailLocalPart",
			tier:  core.ConfidenceMedium,
			match: func(c *core.Merchant, email, _, _ string) bool {
				lp, clp := emailLocalPart(email), emailLocalPart(c.Email)
				return lp != "" && !c.HasPlaceholderEmail() && strings.EqualFold(lp, clp) && !strings.EqualFold(c.Email, email)
			},
		},
		{
			field: "name",
			tier:  core.ConfidenceMedium,
			match: func(c *core.Merchant, _, _, name string) bool {
				return name != "" && strings.EqualFold(c.Name, name)
			},
		},
		{
			field: "namePartial",
			tier:  core.ConfidenceLow,
			match: func(c *core.Merchant, _, _, name string) bool {
				if name == "" || c.Name == "" || strings.EqualFold(c.Name, name) {
					return false
				}
				a, b := strings.ToLower(name), strings.ToLower(c.Name)
				return strings.Contains(a, b) || strings.Contains(b, a)
			},
		},
	}}
}

// Score returns the strongest matched tier and every matched field.
// Zero matched fields yields an empty confidence.
func (s *RuleScorer) Score(candidate *core.Merchant, email, stacksAddress, name string) (core.Confidence, []string) {
	var best core.Confidence
	var fields []string
	for _, rule := range s.rules {
		if rule.match(candidate, email, stacksAddress, name) {
			fields = append(fields, rule.field)
			if stronger(rule.tier, best) {
				best = rule.tier
			}
		}
	}
	return best, fields
}

func stronger(a, b core.Confidence) bool {
	return rank(a) > rank(b)
}

func rank(c core.Confidence) int {
	switch c {
	case core.ConfidenceHigh:
		return 3
	case core.ConfidenceMedium:
		return 2
	case core.ConfidenceLow:
		return 1
	default:
		return 0
	}
}

func emailLocalPart(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	return email[:at]
}
