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
	"errors"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"umbasa.net/metafold/logging"
	"umbasa.net/metafold/rules"
)

var Module = fx.Module("vfs",
	fx.Provide(
		New,
	),
)

var ErrNotFound = errors.New("path not found")
var ErrNotDirectory = errors.New("not a directory")

const modeDir = 0o040000
const modeRegular = 0o100000

type Params struct {
	fx.In

	Viper     *viper.Viper
	Logger    *logging.Logger
	Evaluator *rules.Evaluator
	Rules     *rules.ConfigStore
}

type Result struct {
	fx.Out

	Projection *Projection
}

// Attr is the stat-like answer of a getattr query, shaped for the
// kernel driver.
type Attr struct {
	Size  int64   `json:"size"`
	Mode  uint32  `json:"mode"`
	Mtime float64 `json:"mtime"`
	Atime float64 `json:"atime"`
	Ctime float64 `json:"ctime"`
	Nlink uint32  `json:"nlink"`
	Uid   uint32  `json:"uid"`
	Gid   uint32  `json:"gid"`
}

// ReadResult resolves a virtual path to its upstream location. The core
// never reads file bytes: the caller fetches them from sourcePath or
// from the share at webdavUrl.
type ReadResult struct {
	SourcePath string `json:"sourcePath"`
	WebdavURL  string `json:"webdavUrl,omitempty"`
	Size       int64  `json:"size"`
}

type Stats struct {
	FileCount      int       `json:"fileCount"`
	DirectoryCount int       `json:"directoryCount"`
	TotalSize      int64     `json:"totalSize"`
	LastRefresh    time.Time `json:"lastRefresh"`
}

// Projection is the in-memory directory tree exposed through the query
// API. It is mutated by the event-processing task only; readers take the
// read lock and never mutate.
type Projection struct {
	log       *slog.Logger
	evaluator *rules.Evaluator
	rules     *rules.ConfigStore

	filesRoot  string
	webdavBase string
	fileMode   uint32
	dirMode    uint32
	uid        uint32
	gid        uint32

	mu          sync.RWMutex
	nodes       map[string]*Node // path index, including the root
	fileIDIndex map[string]string
	sourceIndex map[string]string
	fileCount   int
	dirCount    int
	totalSize   int64
	lastRefresh time.Time
}

func New(p Params) Result {
	p.Viper.SetDefault("files.root", "/files")
	p.Viper.SetDefault("webdav.baseUrl", "")
	p.Viper.SetDefault("fuse.fileMode", "0644")
	p.Viper.SetDefault("fuse.dirMode", "0755")
	p.Viper.SetDefault("fuse.uid", 0)
	p.Viper.SetDefault("fuse.gid", 0)

	projection := NewProjection(
		p.Logger.GetLogger("vfs"),
		p.Evaluator,
		p.Rules,
		strings.TrimSuffix(p.Viper.GetString("files.root"), "/"),
		strings.TrimSuffix(p.Viper.GetString("webdav.baseUrl"), "/"),
	)
	projection.fileMode = parseOctal(p.Viper.GetString("fuse.fileMode"), 0o644)
	projection.dirMode = parseOctal(p.Viper.GetString("fuse.dirMode"), 0o755)
	projection.uid = p.Viper.GetUint32("fuse.uid")
	projection.gid = p.Viper.GetUint32("fuse.gid")

	return Result{Projection: projection}
}

// NewProjection creates an empty projection. For direct construction in
// tests; fx wiring goes through New.
func NewProjection(log *slog.Logger, evaluator *rules.Evaluator, rulesStore *rules.ConfigStore, filesRoot string, webdavBase string) *Projection {
	p := &Projection{
		log:         log,
		evaluator:   evaluator,
		rules:       rulesStore,
		filesRoot:   filesRoot,
		webdavBase:  webdavBase,
		fileMode:    0o644,
		dirMode:     0o755,
		nodes:       make(map[string]*Node),
		fileIDIndex: make(map[string]string),
		sourceIndex: make(map[string]string),
	}
	p.nodes["/"] = newDirNode("", "/", "")
	return p
}

func parseOctal(s string, fallback uint32) uint32 {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0o"), 8, 32)
	if err != nil {
		return fallback
	}
	return uint32(v)
}

// OnFileComplete places or moves a file in the tree after its property
// map changed. Equal recomputed paths update the node in place.
func (p *Projection) OnFileComplete(fileID string, props map[string]string) {
	md := MetadataFromProperties(fileID, props)
	if md.FilePath == "" {
		return
	}

	newPath, _ := p.evaluator.Evaluate(p.rules.Current(), md.Lookup())

	p.mu.Lock()
	defer p.mu.Unlock()

	oldPath, existed := p.fileIDIndex[fileID]
	if existed && oldPath == newPath {
		p.updateNodeLocked(oldPath, &md)
		return
	}

	if existed {
		p.removeFileLocked(oldPath)
	}

	if occupant, ok := p.nodes[newPath]; ok {
		// last writer wins on path collisions
		p.log.Warn("virtual path collision", "path", newPath, "fileId", fileID, "evicted", occupant.FileID)
		p.removeSubtreeLocked(occupant)
	}

	parent := p.ensureParentsLocked(newPath)

	node := &Node{
		Name:       path.Base(newPath),
		Path:       newPath,
		Parent:     parent.Path,
		FileID:     fileID,
		SourcePath: p.resolveSource(md.FilePath),
		Size:       md.Size,
		Mtime:      md.Mtime,
		Ctime:      md.Ctime,
		Snapshot:   md.Props,
	}
	parent.addChild(node.Name)
	p.nodes[newPath] = node
	p.fileIDIndex[fileID] = newPath
	p.sourceIndex[node.SourcePath] = newPath
	p.fileCount++
	p.totalSize += node.Size

	p.log.Debug("placed file", "fileId", fileID, "path", newPath)
}

// OnFileDelete removes a file and prunes every ancestor directory left
// empty, stopping at the root.
func (p *Projection) OnFileDelete(fileID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	nodePath, ok := p.fileIDIndex[fileID]
	if !ok {
		return
	}
	p.removeFileLocked(nodePath)

	p.log.Debug("removed file", "fileId", fileID, "path", nodePath)
}

// Prune removes every file whose id is not in seen. Used by refresh to
// reconcile the projection without ever emptying it wholesale.
func (p *Projection) Prune(seen map[string]bool) {
	p.mu.Lock()
	ids := make([]string, 0)
	for fileID := range p.fileIDIndex {
		if !seen[fileID] {
			ids = append(ids, fileID)
		}
	}
	for _, fileID := range ids {
		if nodePath, ok := p.fileIDIndex[fileID]; ok {
			p.removeFileLocked(nodePath)
		}
	}
	p.mu.Unlock()

	if len(ids) > 0 {
		p.log.Info("pruned stale files after refresh", "count", len(ids))
	}
}

func (p *Projection) SetLastRefresh(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRefresh = t
}

func (p *Projection) updateNodeLocked(nodePath string, md *Metadata) {
	node := p.nodes[nodePath]
	p.totalSize += md.Size - node.Size
	node.Size = md.Size
	node.Mtime = md.Mtime
	node.Ctime = md.Ctime
	node.Snapshot = md.Props

	source := p.resolveSource(md.FilePath)
	if source != node.SourcePath {
		delete(p.sourceIndex, node.SourcePath)
		node.SourcePath = source
		p.sourceIndex[source] = nodePath
	}
}

func (p *Projection) removeFileLocked(nodePath string) {
	node, ok := p.nodes[nodePath]
	if !ok || node.IsDir {
		return
	}

	delete(p.nodes, nodePath)
	delete(p.fileIDIndex, node.FileID)
	delete(p.sourceIndex, node.SourcePath)
	p.fileCount--
	p.totalSize -= node.Size

	if parent, ok := p.nodes[node.Parent]; ok {
		parent.removeChild(node.Name)
		p.pruneEmptyLocked(parent)
	}
}

func (p *Projection) removeSubtreeLocked(node *Node) {
	if !node.IsDir {
		p.removeFileLocked(node.Path)
		return
	}
	for _, child := range node.Children() {
		childPath := joinPath(node.Path, child)
		if childNode, ok := p.nodes[childPath]; ok {
			p.removeSubtreeLocked(childNode)
		}
	}
	// removing the last child prunes empty directories, including this
	// one, through removeFileLocked
	if _, still := p.nodes[node.Path]; still {
		delete(p.nodes, node.Path)
		p.dirCount--
		if parent, ok := p.nodes[node.Parent]; ok {
			parent.removeChild(node.Name)
			p.pruneEmptyLocked(parent)
		}
	}
}

func (p *Projection) pruneEmptyLocked(dir *Node) {
	for dir.Path != "/" && len(dir.children) == 0 {
		delete(p.nodes, dir.Path)
		p.dirCount--
		parent, ok := p.nodes[dir.Parent]
		if !ok {
			return
		}
		parent.removeChild(dir.Name)
		dir = parent
	}
}

func (p *Projection) ensureParentsLocked(nodePath string) *Node {
	parentPath := path.Dir(nodePath)
	if node, ok := p.nodes[parentPath]; ok {
		if node.IsDir {
			return node
		}
		// a file occupies the directory path: evict it
		p.log.Warn("virtual path collision with file", "path", parentPath)
		p.removeFileLocked(parentPath)
	}

	grandparent := p.ensureParentsLocked(parentPath)
	dir := newDirNode(path.Base(parentPath), parentPath, grandparent.Path)
	grandparent.addChild(dir.Name)
	p.nodes[parentPath] = dir
	p.dirCount++
	return dir
}

func (p *Projection) resolveSource(filePath string) string {
	if filePath == "" {
		return ""
	}
	if strings.HasPrefix(filePath, p.filesRoot+"/") || filePath == p.filesRoot {
		return filePath
	}
	if strings.HasPrefix(filePath, "/") {
		return p.filesRoot + filePath
	}
	return p.filesRoot + "/" + filePath
}

func (p *Projection) webdavURL(sourcePath string) string {
	if p.webdavBase == "" {
		return ""
	}
	relative := strings.TrimPrefix(strings.TrimPrefix(sourcePath, p.filesRoot), "/")
	segments := strings.Split(relative, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return p.webdavBase + "/" + strings.Join(segments, "/")
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// Readdir lists a directory's entries in insertion order.
func (p *Projection) Readdir(nodePath string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	node, ok := p.nodes[cleanPath(nodePath)]
	if !ok {
		return nil, ErrNotFound
	}
	if !node.IsDir {
		return nil, ErrNotDirectory
	}
	return node.Children(), nil
}

func (p *Projection) Getattr(nodePath string) (Attr, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	node, ok := p.nodes[cleanPath(nodePath)]
	if !ok {
		return Attr{}, ErrNotFound
	}

	attr := Attr{
		Mtime: float64(node.Mtime),
		Atime: float64(node.Mtime),
		Ctime: float64(node.Ctime),
		Uid:   p.uid,
		Gid:   p.gid,
	}
	if node.IsDir {
		attr.Mode = modeDir | p.dirMode
		attr.Nlink = 2
	} else {
		attr.Mode = modeRegular | p.fileMode
		attr.Nlink = 1
		attr.Size = node.Size
	}
	return attr, nil
}

func (p *Projection) Exists(nodePath string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.nodes[cleanPath(nodePath)]
	return ok
}

func (p *Projection) Read(nodePath string) (ReadResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	node, ok := p.nodes[cleanPath(nodePath)]
	if !ok || node.IsDir {
		return ReadResult{}, ErrNotFound
	}
	return ReadResult{
		SourcePath: node.SourcePath,
		WebdavURL:  p.webdavURL(node.SourcePath),
		Size:       node.Size,
	}, nil
}

// Metadata returns the stored property snapshot of a file.
func (p *Projection) Metadata(nodePath string) (map[string]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	node, ok := p.nodes[cleanPath(nodePath)]
	if !ok || node.IsDir {
		return nil, ErrNotFound
	}
	snapshot := make(map[string]string, len(node.Snapshot))
	for k, v := range node.Snapshot {
		snapshot[k] = v
	}
	return snapshot, nil
}

// AllFiles returns every file path, walking the tree depth-first in
// child insertion order.
func (p *Projection) AllFiles() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.walkLocked(false)
}

// AllDirectories returns every directory path except the root.
func (p *Projection) AllDirectories() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.walkLocked(true)
}

func (p *Projection) walkLocked(dirs bool) []string {
	out := make([]string, 0)
	var walk func(node *Node)
	walk = func(node *Node) {
		for _, child := range node.Children() {
			childNode, ok := p.nodes[joinPath(node.Path, child)]
			if !ok {
				continue
			}
			if childNode.IsDir {
				if dirs {
					out = append(out, childNode.Path)
				}
				walk(childNode)
			} else if !dirs {
				out = append(out, childNode.Path)
			}
		}
	}
	walk(p.nodes["/"])
	return out
}

// VirtualPath returns the current virtual path of a file id.
func (p *Projection) VirtualPath(fileID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	nodePath, ok := p.fileIDIndex[fileID]
	return nodePath, ok
}

func (p *Projection) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		FileCount:      p.fileCount,
		DirectoryCount: p.dirCount,
		TotalSize:      p.totalSize,
		LastRefresh:    p.lastRefresh,
	}
}

func cleanPath(nodePath string) string {
	if nodePath == "" {
		return "/"
	}
	if !strings.HasPrefix(nodePath, "/") {
		nodePath = "/" + nodePath
	}
	return path.Clean(nodePath)
}
