// Copyright © 2025 Benjamin Schmitz

// This file is part of Metafold.

// Metafold is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License
// as published by the Free Software Foundation,
// either version 3 of the License, or (at your option)
// any later version.

// Metafold is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public License
// along with Metafold.  If not, see <http://www.gnu.org/licenses/>.

package rules

import (
	"fmt"
	"regexp"
)

// ValidationResult reports the outcome of validating a single rule.
// SampleOutput carries the rendered path when sample metadata was
// supplied and the rule matched it.
type ValidationResult struct {
	Valid        bool     `json:"valid"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
	SampleOutput string   `json:"sampleOutput,omitempty"`
}

// ValidateRule checks a rule for the failures that are silently skipped
// at evaluation time: malformed templates, unknown condition types,
// missing condition values, invalid regular expressions.
func (e *Evaluator) ValidateRule(rule *Rule, sample map[string]string) ValidationResult {
	result := ValidationResult{
		Errors:   make([]string, 0),
		Warnings: make([]string, 0),
	}

	if rule.Template == "" {
		result.Errors = append(result.Errors, "template is required")
	} else if _, err := ParseTemplate(rule.Template); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("malformed template: %v", err))
	}

	if rule.Conditions != nil {
		validateCondition(*rule.Conditions, &result)
	} else {
		result.Warnings = append(result.Warnings, "rule has no conditions and matches every file")
	}

	if !rule.Enabled {
		result.Warnings = append(result.Warnings, "rule is disabled")
	}

	result.Valid = len(result.Errors) == 0

	if result.Valid && sample != nil {
		lookup := MapLookup(sample)
		if e.EvalCondition(rule.Conditions, lookup) {
			if p, ok := e.applyRule(rule, lookup); ok {
				result.SampleOutput = p
			} else {
				result.Warnings = append(result.Warnings, "sample metadata matches the conditions but the template does not interpolate")
			}
		} else {
			result.Warnings = append(result.Warnings, "sample metadata does not match the conditions")
		}
	}

	return result
}

func validateCondition(c Condition, result *ValidationResult) {
	if c.IsGroup() {
		switch c.Operator {
		case OperatorAnd, OperatorOr, "":
		default:
			result.Errors = append(result.Errors, fmt.Sprintf("unknown condition operator %q", c.Operator))
		}
		for _, child := range c.Conditions {
			validateCondition(child, result)
		}
		return
	}

	if c.Field == "" {
		result.Errors = append(result.Errors, "condition field is required")
	}

	switch c.Type {
	case ConditionExists, ConditionNotExists:
	case ConditionEquals, ConditionNotEquals, ConditionContains:
		if c.Value == nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s condition on %q requires a value", c.Type, c.Field))
		}
	case ConditionMatches:
		if c.Value == nil {
			result.Errors = append(result.Errors, fmt.Sprintf("MATCHES condition on %q requires a value", c.Field))
		} else if _, err := regexp.Compile(stringify(c.Value)); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("invalid regex on %q: %v", c.Field, err))
		}
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("unknown condition type %q", c.Type))
	}
}

// ValidateConfig checks a complete rule config before it is saved.
func (e *Evaluator) ValidateConfig(cfg *RuleConfig) []string {
	errors := make([]string, 0)

	if cfg.Version < 1 {
		errors = append(errors, "version must be at least 1")
	}

	seen := make(map[string]bool)
	for i := range cfg.Rules {
		rule := &cfg.Rules[i]
		if rule.ID != "" {
			if seen[rule.ID] {
				errors = append(errors, fmt.Sprintf("duplicate rule id %q", rule.ID))
			}
			seen[rule.ID] = true
		}
		result := e.ValidateRule(rule, nil)
		for _, msg := range result.Errors {
			errors = append(errors, fmt.Sprintf("rule %q: %s", ruleLabel(rule), msg))
		}
	}

	if cfg.DefaultRule != nil {
		result := e.ValidateRule(cfg.DefaultRule, nil)
		for _, msg := range result.Errors {
			errors = append(errors, fmt.Sprintf("default rule: %s", msg))
		}
	}

	return errors
}

func ruleLabel(rule *Rule) string {
	if rule.Name != "" {
		return rule.Name
	}
	return rule.ID
}
