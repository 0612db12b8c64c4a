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

import "strings"

// Sanitize normalizes a computed virtual path: forward-slash separators,
// characters invalid on common filesystems stripped, a leading drive
// prefix ("X:") preserved, a single leading "/", no trailing "/" and no
// empty segments.
func Sanitize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "/")

	var drive string
	if len(p) >= 2 && isDriveLetter(p[0]) && p[1] == ':' {
		drive = p[:2]
		p = p[2:]
	}

	p = strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '|', '?', '*':
			return -1
		}
		return r
	}, p)

	segments := make([]string, 0)
	for _, seg := range strings.Split(p, "/") {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			segments = append(segments, seg)
		}
	}

	if drive != "" {
		if len(segments) > 0 && !strings.HasPrefix(p, "/") {
			// the drive prefix belongs to the first segment ("X:Movies")
			segments[0] = drive + segments[0]
		} else {
			segments = append([]string{drive}, segments...)
		}
	}

	return "/" + strings.Join(segments, "/")
}

func isDriveLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
