package packagekit

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"distbuilder/pkg/contexts/ctxlog"
)

// FileEntry is one file to be installed.
type FileEntry struct {
	SourcePath          string   // absolute location of the built artifact
	TargetName          string   // file name as it will appear once installed
	TargetDir           []string // path segments below the install root; empty means the root itself
	DirectoryID         string   // symbolic id of the target directory, resolved by the tree builder
	IsPrimaryExecutable bool     // the single entry eligible as a shortcut target
	ComponentID         string
}

// targetPath is the install-relative location of the entry. It is the
// allocator input (so ids don't depend on where the build tree happens to
// live) and the key used to detect target collisions.
func (fe *FileEntry) targetPath() string {
	segs := make([]string, 0, len(fe.TargetDir)+1)
	segs = append(segs, fe.TargetDir...)
	segs = append(segs, fe.TargetName)
	return path.Join(segs...)
}

// ResourceTree is a named directory of arbitrary files, installed under a
// subdirectory named after the tree. A name containing path separators
// nests the tree that much deeper.
type ResourceTree struct {
	Name string
	Root string
}

// Manifest is the flat, ordered list of files to package, together with
// the allocator that issued their component ids. The directory tree
// builder must draw from the same id space, so the two travel together.
type Manifest struct {
	Entries []FileEntry

	alloc *IdentifierAllocator
}

func (m *Manifest) Empty() bool {
	return len(m.Entries) == 0
}

// PrimaryExecutable returns the entry flagged as the shortcut target, or
// nil when none was collected.
func (m *Manifest) PrimaryExecutable() *FileEntry {
	for i := range m.Entries {
		if m.Entries[i].IsPrimaryExecutable {
			return &m.Entries[i]
		}
	}
	return nil
}

// CollectManifest walks the build output directory and the resource trees
// and produces the manifest. Order is deterministic: the executable, then
// shared libraries in name order, then each tree in lexical walk order, so
// repeated runs over an unchanged file set produce identical output.
//
// Missing inputs (the executable, a configured tree) are warnings, not
// errors; repackaging a resource-only layout is legitimate. Two entries
// claiming the same target path is an error, never a silent overwrite.
func CollectManifest(ctx context.Context, alloc *IdentifierAllocator, buildDir, executableName string, trees []ResourceTree) (*Manifest, error) {
	ctx, span := trace.StartSpan(ctx, "packagekit.CollectManifest")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	buildDir, err := filepath.Abs(buildDir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving build dir %s", buildDir)
	}

	m := &Manifest{alloc: alloc}

	// Target paths are case-insensitive on the installed system.
	seenTargets := make(map[string]string)
	add := func(e FileEntry) error {
		key := strings.ToLower(e.targetPath())
		if prev, ok := seenTargets[key]; ok {
			return errors.Errorf("duplicate target file %s (from %s and %s)", e.targetPath(), prev, e.SourcePath)
		}
		seenTargets[key] = e.SourcePath
		e.ComponentID = alloc.Component(e.targetPath())
		m.Entries = append(m.Entries, e)
		return nil
	}

	exePath := filepath.Join(buildDir, executableName)
	if info, err := os.Stat(exePath); err == nil && info.Mode().IsRegular() {
		if err := add(FileEntry{
			SourcePath:          exePath,
			TargetName:          executableName,
			IsPrimaryExecutable: true,
		}); err != nil {
			return nil, err
		}
	} else {
		level.Warn(logger).Log(
			"msg", "primary executable not found, continuing without it",
			"path", exePath,
		)
	}

	if err := collectSharedLibraries(m, add, buildDir, logger); err != nil {
		return nil, err
	}

	for _, tree := range trees {
		root, err := filepath.Abs(tree.Root)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving resource tree %s", tree.Root)
		}

		if err := isDirectory(root); err != nil {
			level.Warn(logger).Log(
				"msg", "resource tree not found, skipping",
				"name", tree.Name,
				"path", root,
			)
			continue
		}

		if err := collectResourceTree(m, add, tree.Name, root); err != nil {
			return nil, errors.Wrapf(err, "walking resource tree %s", tree.Name)
		}
	}

	level.Debug(logger).Log(
		"msg", "collected manifest",
		"build_dir", buildDir,
		"files", len(m.Entries),
	)

	return m, nil
}

// collectSharedLibraries picks up every dll directly under the build
// output directory. os.ReadDir returns entries sorted by name, which is
// the ordering we want.
func collectSharedLibraries(m *Manifest, add func(FileEntry) error, buildDir string, logger log.Logger) error {
	dirEntries, err := os.ReadDir(buildDir)
	if err != nil {
		if os.IsNotExist(err) {
			level.Warn(logger).Log("msg", "build output directory not found", "path", buildDir)
			return nil
		}
		return errors.Wrapf(err, "reading build dir %s", buildDir)
	}

	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(de.Name()), ".dll") {
			continue
		}
		if err := add(FileEntry{
			SourcePath: filepath.Join(buildDir, de.Name()),
			TargetName: de.Name(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// collectResourceTree walks root and adds every regular file, mirroring
// its relative path under a directory named after the tree. WalkDir visits
// in lexical order, keeping the manifest deterministic.
func collectResourceTree(m *Manifest, add func(FileEntry) error, treeName, root string) error {
	// A directory name with a separator in it is not representable in the
	// package schema, so a nested tree name becomes one segment per level.
	nameSegs := make([]string, 0, 2)
	for _, seg := range strings.Split(filepath.ToSlash(treeName), "/") {
		if seg != "" {
			nameSegs = append(nameSegs, seg)
		}
	}

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return errors.Wrapf(err, "relativizing %s", p)
		}

		segs := make([]string, 0, len(nameSegs)+2)
		segs = append(segs, nameSegs...)
		if dir := filepath.Dir(rel); dir != "." {
			segs = append(segs, strings.Split(filepath.ToSlash(dir), "/")...)
		}

		return add(FileEntry{
			SourcePath: p,
			TargetName: filepath.Base(rel),
			TargetDir:  segs,
		})
	})
}
