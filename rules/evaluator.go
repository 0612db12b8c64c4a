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
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/akyoto/cache"
)

const cacheTimeout = time.Hour

// UnsortedDir is where files land when no rule produces a path for them.
const UnsortedDir = "Unsorted"

// Evaluator decides which rule matches a file and interpolates its
// template. Compiled templates and regular expressions are cached;
// invalid rules fail soft (skipped, logged), they never abort evaluation.
type Evaluator struct {
	log           *slog.Logger
	templateCache *cache.Cache
	regexCache    *cache.Cache
}

func NewEvaluator(log *slog.Logger) *Evaluator {
	return &Evaluator{
		log:           log,
		templateCache: cache.New(cacheTimeout),
		regexCache:    cache.New(cacheTimeout),
	}
}

// Evaluate resolves the virtual path for a file described by lookup.
// Rules apply in descending priority (ties broken by position), disabled
// rules are skipped. When no rule yields a path the default rule applies,
// and as a last resort the file lands in Unsorted. The returned path is
// sanitized and always non-empty; ruleID names the rule that produced it,
// or "" for the final Unsorted fallback.
func (e *Evaluator) Evaluate(cfg *RuleConfig, lookup Lookup) (virtualPath string, ruleID string) {
	for _, rule := range sortedRules(cfg) {
		if !rule.Enabled {
			continue
		}
		if p, ok := e.applyRule(&rule, lookup); ok {
			return p, rule.ID
		}
	}

	if cfg.DefaultRule != nil {
		if p, ok := e.applyRule(cfg.DefaultRule, lookup); ok {
			return p, cfg.DefaultRule.ID
		}
	}

	return Sanitize(UnsortedDir + "/" + fileNameFor(lookup)), ""
}

func (e *Evaluator) applyRule(rule *Rule, lookup Lookup) (string, bool) {
	if !e.EvalCondition(rule.Conditions, lookup) {
		return "", false
	}

	tmpl, err := e.template(rule.Template)
	if err != nil {
		e.log.Warn("skipping rule with malformed template", "rule", rule.Name, "error", err)
		return "", false
	}

	rendered, ok := tmpl.Render(lookup)
	if ok && rendered != "" {
		return Sanitize(rendered), true
	}

	if rule.FallbackToUnsorted {
		return Sanitize(UnsortedDir + "/" + fileNameFor(lookup)), true
	}

	return "", false
}

// EvalCondition evaluates a condition tree. A nil condition or an empty
// group is true.
func (e *Evaluator) EvalCondition(c *Condition, lookup Lookup) bool {
	if c == nil {
		return true
	}
	return e.evalNode(*c, lookup)
}

func (e *Evaluator) evalNode(c Condition, lookup Lookup) bool {
	if c.IsGroup() {
		return e.evalGroup(c, lookup)
	}
	return e.evalLeaf(c, lookup)
}

func (e *Evaluator) evalGroup(c Condition, lookup Lookup) bool {
	switch c.Operator {
	case OperatorOr:
		if len(c.Conditions) == 0 {
			return true
		}
		for _, child := range c.Conditions {
			if e.evalNode(child, lookup) {
				return true
			}
		}
		return false
	case OperatorAnd, "":
		for _, child := range c.Conditions {
			if !e.evalNode(child, lookup) {
				return false
			}
		}
		return true
	default:
		e.log.Warn("unknown condition operator", "operator", c.Operator)
		return false
	}
}

func (e *Evaluator) evalLeaf(c Condition, lookup Lookup) bool {
	value, present := lookup(c.Field)

	switch c.Type {
	case ConditionExists:
		return present
	case ConditionNotExists:
		return !present
	case ConditionEquals:
		return present && equals(value, c.Value)
	case ConditionNotEquals:
		return !present || !equals(value, c.Value)
	case ConditionContains:
		return present && strings.Contains(value, stringify(c.Value))
	case ConditionMatches:
		if !present {
			return false
		}
		re, err := e.regex(stringify(c.Value))
		if err != nil {
			e.log.Warn("invalid regex in MATCHES condition", "field", c.Field, "pattern", c.Value, "error", err)
			return false
		}
		return re.MatchString(value)
	default:
		e.log.Warn("unknown condition type", "type", c.Type)
		return false
	}
}

// equals compares the metadata value against the rule value: as boolean
// when the rule value is a boolean, numerically when it is a number,
// as strings otherwise.
func equals(value string, ruleValue any) bool {
	switch rv := ruleValue.(type) {
	case bool:
		v := strings.ToLower(value)
		return (v == "true" || v == "false") && (v == "true") == rv
	case float64:
		f, err := strconv.ParseFloat(value, 64)
		return err == nil && f == rv
	case int:
		f, err := strconv.ParseFloat(value, 64)
		return err == nil && f == float64(rv)
	default:
		return value == stringify(ruleValue)
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

func (e *Evaluator) template(source string) (*Template, error) {
	if cached, found := e.templateCache.Get(source); found {
		return cached.(*Template), nil
	}
	tmpl, err := ParseTemplate(source)
	if err != nil {
		return nil, err
	}
	e.templateCache.Set(source, tmpl, cacheTimeout)
	return tmpl, nil
}

func (e *Evaluator) regex(pattern string) (*regexp.Regexp, error) {
	if cached, found := e.regexCache.Get(pattern); found {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.regexCache.Set(pattern, re, cacheTimeout)
	return re, nil
}

func fileNameFor(lookup Lookup) string {
	if name, ok := lookup("fileName"); ok && name != "" {
		return name
	}
	if filePath, ok := lookup("filePath"); ok && filePath != "" {
		return path.Base(filePath)
	}
	return "unknown"
}
