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

// coreProperties always affect virtual-path computation, regardless of
// the rule set.
var coreProperties = []string{
	"filePath",
	"size",
	"fileSize",
	"sizeByte",
	"mtime",
	"ctime",
	"fileName",
	"extension",
}

// PropertySet is the set of property paths relevant to virtual-path
// computation, in dot form.
type PropertySet struct {
	paths map[string]struct{}
}

// RelevantProperties statically analyzes the rule config: the fixed core
// properties, every variable of the enabled rules' templates (including
// conditional subtemplates and field fallbacks) and of the default rule's
// template, and every field referenced by a condition of an enabled rule.
func RelevantProperties(cfg *RuleConfig) *PropertySet {
	set := &PropertySet{paths: make(map[string]struct{})}

	for _, prop := range coreProperties {
		set.add(prop)
	}

	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		set.addTemplate(rule.Template)
		set.addCondition(rule.Conditions)
	}
	if cfg.DefaultRule != nil {
		set.addTemplate(cfg.DefaultRule.Template)
	}

	return set
}

func (s *PropertySet) add(path string) {
	s.paths[NormalizePath(path)] = struct{}{}
}

func (s *PropertySet) addTemplate(source string) {
	tmpl, err := ParseTemplate(source)
	if err != nil {
		// malformed templates are skipped at evaluation time too
		return
	}
	for _, variable := range tmpl.Variables() {
		s.add(variable)
	}
}

func (s *PropertySet) addCondition(c *Condition) {
	if c == nil {
		return
	}
	s.addConditionNode(*c)
}

func (s *PropertySet) addConditionNode(c Condition) {
	if c.IsGroup() {
		for _, child := range c.Conditions {
			s.addConditionNode(child)
		}
		return
	}
	if c.Field != "" {
		s.add(c.Field)
	}
}

// Matches reports whether a property path is relevant: an exact member,
// or an ancestor or descendant of a member by dotted prefix. Tracking
// "titles" admits updates to "titles/eng", and tracking "titles/eng"
// admits coarse updates to "titles".
func (s *PropertySet) Matches(prop string) bool {
	prop = NormalizePath(prop)
	if _, ok := s.paths[prop]; ok {
		return true
	}
	for member := range s.paths {
		if strings.HasPrefix(member, prop+".") || strings.HasPrefix(prop, member+".") {
			return true
		}
	}
	return false
}

// Paths returns the members in sorted order, for diagnostics.
func (s *PropertySet) Paths() []string {
	out := make([]string, 0, len(s.paths))
	for p := range s.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
