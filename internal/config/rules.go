package config

import (
	"fmt"

	"github.com/yuriy-kovalchuk/yk-waf-manager/internal/waf"
)

// RuleConfig is a rule as written in the configuration file. Enabled
// defaults to true when omitted.
type RuleConfig struct {
	Description string `yaml:"description"`
	Expression  string `yaml:"expression"`
	Action      string `yaml:"action"`
	Enabled     *bool  `yaml:"enabled"`
}

// DeclaredRules converts the configured rules, in order, into declared rules.
func (o Options) DeclaredRules() ([]waf.Rule, error) {
	rules := make([]waf.Rule, 0, len(o.Rules))
	for i, rc := range o.Rules {
		rule, err := rc.toRule()
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (rc RuleConfig) toRule() (waf.Rule, error) {
	switch {
	case rc.Description == "":
		return waf.Rule{}, &waf.ConfigurationError{Field: "description", Reason: "rule description is required"}
	case rc.Expression == "":
		return waf.Rule{}, &waf.ConfigurationError{Field: "expression", Reason: fmt.Sprintf("rule %q has no expression", rc.Description)}
	case rc.Action == "":
		return waf.Rule{}, &waf.ConfigurationError{Field: "action", Reason: fmt.Sprintf("rule %q has no action", rc.Description)}
	}

	enabled := true
	if rc.Enabled != nil {
		enabled = *rc.Enabled
	}
	return waf.Rule{
		Description: rc.Description,
		Expression:  rc.Expression,
		Action:      rc.Action,
		Enabled:     enabled,
	}, nil
}
