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

package rules_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"umbasa.net/metafold/rules"
)

func render(t *testing.T, source string, props map[string]string) (string, bool) {
	tmpl, err := rules.ParseTemplate(source)
	if err != nil {
		t.Fatal(err)
	}
	return tmpl.Render(rules.MapLookup(props))
}

func TestTemplateRender(t *testing.T) {
	props := map[string]string{
		"title":     "Inception",
		"movieYear": "2010",
		"season":    "1",
		"extension": "mkv",
		"titles/eng": "Breaking Bad",
	}

	t.Run("literal only", func(t *testing.T) {
		out, ok := render(t, "Movies/Misc", props)
		assert.True(t, ok)
		assert.Equal(t, "Movies/Misc", out)
	})

	t.Run("required variable", func(t *testing.T) {
		out, ok := render(t, "Movies/{title} ({movieYear})", props)
		assert.True(t, ok)
		assert.Equal(t, "Movies/Inception (2010)", out)
	})

	t.Run("required variable missing fails", func(t *testing.T) {
		_, ok := render(t, "Movies/{missing}", props)
		assert.False(t, ok)
	})

	t.Run("optional variable elided", func(t *testing.T) {
		out, ok := render(t, "{title}{version?}", props)
		assert.True(t, ok)
		assert.Equal(t, "Inception", out)
	})

	t.Run("slash paths normalize to dots", func(t *testing.T) {
		out, ok := render(t, "{titles/eng}", props)
		assert.True(t, ok)
		assert.Equal(t, "Breaking Bad", out)
	})

	t.Run("conditional subtemplate included when present", func(t *testing.T) {
		out, ok := render(t, "{title}{movieYear?( ({movieYear}))}", props)
		assert.True(t, ok)
		assert.Equal(t, "Inception (2010)", out)
	})

	t.Run("conditional subtemplate elided when absent", func(t *testing.T) {
		out, ok := render(t, "{title}{version?( [{version}])}", props)
		assert.True(t, ok)
		assert.Equal(t, "Inception", out)
	})

	t.Run("conditional subtemplate elided when inner fails", func(t *testing.T) {
		out, ok := render(t, "{title}{movieYear?( {missing})}", props)
		assert.True(t, ok)
		assert.Equal(t, "Inception", out)
	})
}

func TestTemplateFallback(t *testing.T) {
	t.Run("field fallback resolves second field", func(t *testing.T) {
		out, ok := render(t, "{titles.eng|originalTitle}", map[string]string{
			"originalTitle": "Le Samouraï",
		})
		assert.True(t, ok)
		assert.Equal(t, "Le Samouraï", out)
	})

	t.Run("field fallback prefers primary", func(t *testing.T) {
		out, ok := render(t, "{titles.eng|originalTitle}", map[string]string{
			"titles/eng":    "The Samurai",
			"originalTitle": "Le Samouraï",
		})
		assert.True(t, ok)
		assert.Equal(t, "The Samurai", out)
	})

	t.Run("both fields missing fails, never a literal", func(t *testing.T) {
		out, ok := render(t, "{titles.eng|originalTitle}", map[string]string{})
		assert.False(t, ok)
		assert.NotEqual(t, "originalTitle", out)
	})

	t.Run("literal default", func(t *testing.T) {
		out, ok := render(t, "{title|No Title}", map[string]string{})
		assert.True(t, ok)
		assert.Equal(t, "No Title", out)
	})
}

func TestTemplateFormats(t *testing.T) {
	t.Run("pad2 pads short values", func(t *testing.T) {
		out, ok := render(t, "S{season:pad2}", map[string]string{"season": "1"})
		assert.True(t, ok)
		assert.Equal(t, "S01", out)
	})

	t.Run("pad2 leaves long values unchanged", func(t *testing.T) {
		out, ok := render(t, "S{season:pad2}", map[string]string{"season": "10"})
		assert.True(t, ok)
		assert.Equal(t, "S10", out)

		out, ok = render(t, "E{episode:pad2}", map[string]string{"episode": "123"})
		assert.True(t, ok)
		assert.Equal(t, "E123", out)
	})

	t.Run("pad3", func(t *testing.T) {
		out, ok := render(t, "{episode:pad3}", map[string]string{"episode": "7"})
		assert.True(t, ok)
		assert.Equal(t, "007", out)
	})

	t.Run("upper and lower", func(t *testing.T) {
		props := map[string]string{"extension": "Mkv"}
		out, _ := render(t, "{extension:upper}", props)
		assert.Equal(t, "MKV", out)
		out, _ = render(t, "{extension:uppercase}", props)
		assert.Equal(t, "MKV", out)
		out, _ = render(t, "{extension:lower}", props)
		assert.Equal(t, "mkv", out)
		out, _ = render(t, "{extension:lowercase}", props)
		assert.Equal(t, "mkv", out)
	})

	t.Run("unknown format is a parse error", func(t *testing.T) {
		_, err := rules.ParseTemplate("{season:pad}")
		assert.Error(t, err)
		_, err = rules.ParseTemplate("{season:rot13}")
		assert.Error(t, err)
	})
}

func TestTemplateBraces(t *testing.T) {
	t.Run("unmatched brace renders as literal", func(t *testing.T) {
		out, ok := render(t, "Movies/{title", map[string]string{"title": "x"})
		assert.True(t, ok)
		assert.Equal(t, "Movies/{title", out)
	})

	t.Run("empty expression is a parse error", func(t *testing.T) {
		_, err := rules.ParseTemplate("{}")
		assert.Error(t, err)
	})

	t.Run("invalid path is a parse error", func(t *testing.T) {
		_, err := rules.ParseTemplate("{ti tle}")
		assert.Error(t, err)
	})
}

func TestTemplateVariables(t *testing.T) {
	tmpl, err := rules.ParseTemplate("TV Shows/{titles.eng|title}/S{season:pad2}/{name?({subtitleLanguage}.)}{extension}")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"titles.eng", "title", "season", "name", "subtitleLanguage", "extension"}, tmpl.Variables())
}
