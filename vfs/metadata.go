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

package vfs

import (
	"path"
	"strconv"
	"strings"
	"time"

	"umbasa.net/metafold/rules"
)

// File types inferred from the extension when the store carries none.
var extensionTypes = map[string]string{
	"mkv": "video", "mp4": "video", "avi": "video", "mov": "video",
	"wmv": "video", "flv": "video", "webm": "video", "m4v": "video",
	"srt": "subtitle", "ass": "subtitle", "ssa": "subtitle",
	"sub": "subtitle", "idx": "subtitle", "vtt": "subtitle",
	"torrent": "torrent",
}

// Metadata is the typed view of a file's property map. The store emits
// strings; ints, booleans and timestamps are parsed on ingest and
// missing names are synthesized from filePath. All raw properties stay
// addressable through Props.
type Metadata struct {
	FileID    string
	FilePath  string
	FileName  string
	Extension string
	FileType  string
	Size      int64
	Mtime     int64 // epoch seconds
	Ctime     int64
	Extra     bool

	// Props carries every property in dot form, including the
	// synthesized fileName, extension and fileType.
	Props map[string]string
}

// MetadataFromProperties converts a raw property map into a Metadata
// record.
func MetadataFromProperties(fileID string, props map[string]string) Metadata {
	md := Metadata{
		FileID: fileID,
		Props:  make(map[string]string, len(props)+3),
	}

	for k, v := range props {
		md.Props[rules.NormalizePath(k)] = v
	}

	md.FilePath = md.Props["filePath"]

	md.FileName = md.Props["fileName"]
	if md.FileName == "" && md.FilePath != "" {
		md.FileName = path.Base(md.FilePath)
		md.Props["fileName"] = md.FileName
	}

	md.Extension = md.Props["extension"]
	if md.Extension == "" && md.FileName != "" {
		md.Extension = strings.TrimPrefix(path.Ext(md.FileName), ".")
		if md.Extension != "" {
			md.Props["extension"] = md.Extension
		}
	}

	md.FileType = md.Props["fileType"]
	if md.FileType == "" {
		if typ, ok := extensionTypes[strings.ToLower(md.Extension)]; ok {
			md.FileType = typ
			md.Props["fileType"] = typ
		}
	}

	for _, key := range []string{"size", "fileSize", "sizeByte"} {
		if v, ok := md.Props[key]; ok {
			if size, err := strconv.ParseInt(v, 10, 64); err == nil {
				md.Size = size
				break
			}
		}
	}

	md.Mtime = parseTime(md.Props["mtime"])
	md.Ctime = parseTime(md.Props["ctime"])
	md.Extra = strings.EqualFold(md.Props["extra"], "true")

	return md
}

// Lookup returns a rules.Lookup over the property map.
func (md *Metadata) Lookup() rules.Lookup {
	return rules.MapLookup(md.Props)
}

// parseTime accepts epoch seconds, epoch milliseconds or ISO timestamps
// and returns epoch seconds, 0 when absent or unparseable.
func parseTime(v string) int64 {
	if v == "" {
		return 0
	}
	if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
		if epoch > 1e12 {
			// milliseconds
			return epoch / 1000
		}
		return epoch
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return int64(f)
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.Unix()
	}
	return 0
}
