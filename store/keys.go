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

package store

import "strings"

// Key schema of the upstream metadata store. All keys may carry a
// deployment-specific prefix in front of these patterns.
const FileKeyPrefix = "file:"
const FileIndexKey = "file:__index__"
const EventStreamKey = "meta:events"
const LogChannel = "metafold:log"

// Event types carried in the stream entries.
const EventTypeSet = "set"
const EventTypeDel = "del"

// FileKey builds the store key for a single property of a file.
// The property path may contain "/" for nesting.
func (c *Client) FileKey(fileID string, prop string) string {
	return c.prefix + FileKeyPrefix + fileID + "/" + prop
}

func (c *Client) IndexKey() string {
	return c.prefix + FileIndexKey
}

func (c *Client) EventStream() string {
	return c.prefix + EventStreamKey
}

// ParseFileKey splits a store key of the form "file:<fileId>/<propertyPath>"
// into its parts. Keys of any other shape report ok = false.
func (c *Client) ParseFileKey(key string) (fileID string, prop string, ok bool) {
	key, found := strings.CutPrefix(key, c.prefix)
	if !found {
		return "", "", false
	}
	rest, found := strings.CutPrefix(key, FileKeyPrefix)
	if !found {
		return "", "", false
	}
	fileID, prop, found = strings.Cut(rest, "/")
	if !found || fileID == "" || prop == "" {
		return "", "", false
	}
	if fileID == "__index__" {
		return "", "", false
	}
	return fileID, prop, true
}
