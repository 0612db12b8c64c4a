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

// DefaultConfig is the built-in rule set seeded on first run.
func DefaultConfig() *RuleConfig {
	return &RuleConfig{
		Version:   1,
		IsDefault: true,
		Rules: []Rule{
			{
				ID:          "tv-show-episodes",
				Name:        "TV Show Episodes",
				Description: "Videos with a season and episode number",
				Enabled:     true,
				Priority:    100,
				Conditions: &Condition{
					Operator: OperatorAnd,
					Conditions: []Condition{
						{Type: ConditionEquals, Field: "fileType", Value: "video"},
						{Type: ConditionExists, Field: "season"},
						{Type: ConditionExists, Field: "episode"},
					},
				},
				Template:           "TV Shows/{titles.eng|title}/S{season:pad2}/{titles.eng|title} S{season:pad2}E{episode:pad2}.{extension}",
				FallbackToUnsorted: true,
			},
			{
				ID:          "tv-show-seasons",
				Name:        "TV Show Extras",
				Description: "Videos with a season but no episode number",
				Enabled:     true,
				Priority:    90,
				Conditions: &Condition{
					Operator: OperatorAnd,
					Conditions: []Condition{
						{Type: ConditionEquals, Field: "fileType", Value: "video"},
						{Type: ConditionExists, Field: "season"},
					},
				},
				Template:           "TV Shows/{titles.eng|title}/S{season:pad2}/{fileName}",
				FallbackToUnsorted: true,
			},
			{
				ID:          "movies",
				Name:        "Movies",
				Description: "Videos with a release year and no season",
				Enabled:     true,
				Priority:    80,
				Conditions: &Condition{
					Operator: OperatorAnd,
					Conditions: []Condition{
						{Type: ConditionEquals, Field: "fileType", Value: "video"},
						{Type: ConditionNotExists, Field: "season"},
						{
							Operator: OperatorOr,
							Conditions: []Condition{
								{Type: ConditionExists, Field: "movieYear"},
								{Type: ConditionExists, Field: "year"},
							},
						},
					},
				},
				Template:           "Movies/{title} ({movieYear|year})/{title} ({movieYear|year}).{extension}",
				FallbackToUnsorted: true,
			},
			{
				ID:          "subtitles",
				Name:        "Subtitles",
				Description: "Subtitle files, grouped by language when known",
				Enabled:     true,
				Priority:    60,
				Conditions: &Condition{
					Type: ConditionEquals, Field: "fileType", Value: "subtitle",
				},
				Template: "Subtitles/{subtitleLanguage?({subtitleLanguage}/)}{fileName}",
			},
		},
		DefaultRule: &Rule{
			ID:       "default",
			Name:     "Unsorted",
			Enabled:  true,
			Priority: 0,
			Template: "Unsorted/{fileName}",
		},
	}
}
