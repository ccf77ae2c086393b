package packagekit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupScenarioRoot lays out the canonical test scenario: a build dir with
// an executable and one dll, plus a resource tree holding a nested icon.
func setupScenarioRoot(t *testing.T) (buildDir string, trees []ResourceTree) {
	t.Helper()

	root := t.TempDir()

	buildDir = filepath.Join(root, "target", "release")
	require.NoError(t, os.MkdirAll(buildDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "app.exe"), []byte("MZ fake exe"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "helper.dll"), []byte("fake dll"), 0644))

	iconDir := filepath.Join(root, "resources", "icons")
	require.NoError(t, os.MkdirAll(iconDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(iconDir, "app.ico"), []byte("fake icon"), 0644))

	trees = []ResourceTree{
		{Name: "resources", Root: filepath.Join(root, "resources")},
	}
	return buildDir, trees
}

func TestCollectManifestScenario(t *testing.T) {
	t.Parallel()

	buildDir, trees := setupScenarioRoot(t)

	m, err := CollectManifest(context.TODO(), NewIdentifierAllocator(), buildDir, "app.exe", trees)
	require.NoError(t, err)
	require.Len(t, m.Entries, 3)

	exe := m.Entries[0]
	require.Equal(t, "app.exe", exe.TargetName)
	require.True(t, exe.IsPrimaryExecutable)
	require.Empty(t, exe.TargetDir)
	require.Equal(t, exe.SourcePath, filepath.Join(buildDir, "app.exe"))

	dll := m.Entries[1]
	require.Equal(t, "helper.dll", dll.TargetName)
	require.False(t, dll.IsPrimaryExecutable)
	require.Empty(t, dll.TargetDir)

	ico := m.Entries[2]
	require.Equal(t, "app.ico", ico.TargetName)
	require.Equal(t, []string{"resources", "icons"}, ico.TargetDir)

	require.Equal(t, exe, *m.PrimaryExecutable())

	seen := make(map[string]bool)
	for _, e := range m.Entries {
		require.NotEmpty(t, e.ComponentID)
		require.False(t, seen[e.ComponentID])
		seen[e.ComponentID] = true
	}
}

func TestCollectManifestMissingExecutable(t *testing.T) {
	t.Parallel()

	buildDir, trees := setupScenarioRoot(t)
	require.NoError(t, os.Remove(filepath.Join(buildDir, "app.exe")))

	m, err := CollectManifest(context.TODO(), NewIdentifierAllocator(), buildDir, "app.exe", trees)
	require.NoError(t, err)
	require.Len(t, m.Entries, 2)
	require.Nil(t, m.PrimaryExecutable())
}

func TestCollectManifestMissingTree(t *testing.T) {
	t.Parallel()

	buildDir, trees := setupScenarioRoot(t)
	trees = append(trees, ResourceTree{Name: "assets", Root: filepath.Join(buildDir, "no-such-dir")})

	m, err := CollectManifest(context.TODO(), NewIdentifierAllocator(), buildDir, "app.exe", trees)
	require.NoError(t, err)
	require.Len(t, m.Entries, 3)
}

func TestCollectManifestNestedTreeName(t *testing.T) {
	t.Parallel()

	buildDir, _ := setupScenarioRoot(t)

	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "seed.bin"), []byte("seed"), 0644))

	// A separator in the tree name nests the tree; it must never end up
	// inside a single directory name.
	trees := []ResourceTree{{Name: "resources/data", Root: dataDir}}

	m, err := CollectManifest(context.TODO(), NewIdentifierAllocator(), buildDir, "app.exe", trees)
	require.NoError(t, err)

	require.Equal(t, []string{"resources", "data"}, m.Entries[len(m.Entries)-1].TargetDir)
}

func TestCollectManifestEmpty(t *testing.T) {
	t.Parallel()

	m, err := CollectManifest(context.TODO(), NewIdentifierAllocator(), t.TempDir(), "app.exe", nil)
	require.NoError(t, err)
	require.True(t, m.Empty())
}

func TestCollectManifestDuplicateTarget(t *testing.T) {
	t.Parallel()

	buildDir, trees := setupScenarioRoot(t)

	// A second tree installed under the same name produces the same
	// target path for app.ico. That's a reject, not an overwrite.
	other := filepath.Join(t.TempDir(), "icons")
	require.NoError(t, os.MkdirAll(other, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(other, "app.ico"), []byte("other icon"), 0644))
	trees = append(trees, ResourceTree{Name: filepath.Join("resources", "icons"), Root: other})

	_, err := CollectManifest(context.TODO(), NewIdentifierAllocator(), buildDir, "app.exe", trees)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate target file")
}

func TestCollectManifestDeterministic(t *testing.T) {
	t.Parallel()

	buildDir, trees := setupScenarioRoot(t)

	first, err := CollectManifest(context.TODO(), NewIdentifierAllocator(), buildDir, "app.exe", trees)
	require.NoError(t, err)

	second, err := CollectManifest(context.TODO(), NewIdentifierAllocator(), buildDir, "app.exe", trees)
	require.NoError(t, err)

	require.Equal(t, first.Entries, second.Entries)
}
