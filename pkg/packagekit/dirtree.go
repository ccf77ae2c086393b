package packagekit

import (
	"path"
	"sort"
)

// installFolderID is the well-known id of the installation root. The root
// is implicit: entries targeted at it reference the id directly and no
// DirectoryNode is ever created for it.
const installFolderID = "INSTALLFOLDER"

// DirectoryNode is one path segment in the installation tree.
type DirectoryNode struct {
	Name       string
	Path       []string // segments from the install root to this node
	SymbolicID string

	children map[string]*DirectoryNode
}

// Children returns the child nodes in name order. Rendering wants a fixed
// order so repeated runs emit identical documents.
func (n *DirectoryNode) Children() []*DirectoryNode {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*DirectoryNode, 0, len(names))
	for _, name := range names {
		out = append(out, n.children[name])
	}
	return out
}

// DirectoryTree is the deduplicated hierarchy of target directories.
// Identity is keyed by (parent, name), not by path string comparison: an
// identically named directory under two different parents gets two nodes,
// while any number of files under one parent share a single node.
type DirectoryTree struct {
	root *DirectoryNode
}

// Roots returns the first-level directories under the installation root.
func (t *DirectoryTree) Roots() []*DirectoryNode {
	return t.root.Children()
}

// insert walks segments down from the root, descending into existing
// children and creating missing ones with fresh ids from alloc.
func (t *DirectoryTree) insert(segments []string, alloc *IdentifierAllocator) *DirectoryNode {
	node := t.root
	for _, seg := range segments {
		child, ok := node.children[seg]
		if !ok {
			childPath := make([]string, 0, len(node.Path)+1)
			childPath = append(childPath, node.Path...)
			childPath = append(childPath, seg)

			child = &DirectoryNode{
				Name:       seg,
				Path:       childPath,
				SymbolicID: alloc.Directory(path.Join(childPath...)),
				children:   make(map[string]*DirectoryNode),
			}
			node.children[seg] = child
		}
		node = child
	}
	return node
}

// BuildDirectoryTree folds the manifest into the directory hierarchy and
// resolves each entry's DirectoryID. Entries with no path segments attach
// to the implicit root and keep an empty DirectoryID, which the emitter
// renders as "inherit the install root".
func BuildDirectoryTree(m *Manifest) *DirectoryTree {
	t := &DirectoryTree{
		root: &DirectoryNode{
			SymbolicID: installFolderID,
			children:   make(map[string]*DirectoryNode),
		},
	}

	for i := range m.Entries {
		e := &m.Entries[i]
		if len(e.TargetDir) == 0 {
			e.DirectoryID = ""
			continue
		}
		e.DirectoryID = t.insert(e.TargetDir, m.alloc).SymbolicID
	}

	return t
}
