// Copyright © 2025 Benjamin Schmitz

// This file is part of Metafold <https://github.com/Vortex375/metafold>.

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
	"sort"
	"strings"
)

// Condition types of a leaf condition.
const (
	ConditionExists    = "EXISTS"
	ConditionNotExists = "NOT_EXISTS"
	ConditionEquals    = "EQUALS"
	ConditionNotEquals = "NOT_EQUALS"
	ConditionContains  = "CONTAINS"
	ConditionMatches   = "MATCHES"
)

// Group operators.
const (
	OperatorAnd = "AND"
	OperatorOr  = "OR"
)

// RuleConfig is the user's complete rule set, persisted as JSON.
type RuleConfig struct {
	Version      int    `json:"version"`
	Rules        []Rule `json:"rules"`
	DefaultRule  *Rule  `json:"defaultRule,omitempty"`
	LastModified int64  `json:"lastModified,omitempty"`
	IsDefault    bool   `json:"isDefault,omitempty"`
}

// Rule selects files through its conditions and shapes their virtual path
// through its template. Rules are evaluated in descending priority,
// ties broken by position.
type Rule struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Description        string     `json:"description,omitempty"`
	Enabled            bool       `json:"enabled"`
	Priority           int        `json:"priority"`
	Conditions         *Condition `json:"conditions,omitempty"`
	Template           string     `json:"template"`
	FallbackToUnsorted bool       `json:"fallbackToUnsorted,omitempty"`
}

// Condition is either a leaf (Type/Field/Value) or a group
// (Operator/Conditions). A nil or empty condition evaluates true.
type Condition struct {
	Type  string `json:"type,omitempty"`
	Field string `json:"field,omitempty"`
	Value any    `json:"value,omitempty"`

	Operator   string      `json:"operator,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
}

func (c *Condition) IsGroup() bool {
	return c.Operator != "" || c.Conditions != nil
}

// Lookup resolves a dot-delimited property path to its string value.
type Lookup func(path string) (string, bool)

// MapLookup adapts a property map to a Lookup. Both the map keys and the
// queried paths are normalized to dot form.
func MapLookup(props map[string]string) Lookup {
	normalized := make(map[string]string, len(props))
	for k, v := range props {
		normalized[NormalizePath(k)] = v
	}
	return func(path string) (string, bool) {
		v, ok := normalized[NormalizePath(path)]
		return v, ok
	}
}

// NormalizePath rewrites a slash-delimited property path to dot form.
func NormalizePath(path string) string {
	return strings.ReplaceAll(path, "/", ".")
}

// sortedRules returns the rules ordered by descending priority, stable
// with respect to their position in the config.
func sortedRules(cfg *RuleConfig) []Rule {
	rules := make([]Rule, len(cfg.Rules))
	copy(rules, cfg.Rules)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
	return rules
}
