package dist

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"distbuilder/pkg/packagekit"
)

func scenarioManifest(t *testing.T) *packagekit.Manifest {
	t.Helper()

	root := t.TempDir()

	buildDir := filepath.Join(root, "target", "release")
	require.NoError(t, os.MkdirAll(buildDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "app.exe"), []byte("MZ fake exe"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "helper.dll"), []byte("fake dll"), 0644))

	iconDir := filepath.Join(root, "resources", "icons")
	require.NoError(t, os.MkdirAll(iconDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(iconDir, "app.ico"), []byte("fake icon"), 0644))

	m, err := packagekit.CollectManifest(
		context.TODO(),
		packagekit.NewIdentifierAllocator(),
		buildDir,
		"app.exe",
		[]packagekit.ResourceTree{{Name: "resources", Root: filepath.Join(root, "resources")}},
	)
	require.NoError(t, err)
	return m
}

func TestPortableArchive(t *testing.T) {
	t.Parallel()

	m := scenarioManifest(t)

	var buf bytes.Buffer
	require.NoError(t, PortableArchive(context.TODO(), &buf, "R-Droid", m))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	contents := make(map[string]string, len(zr.File))
	var names []string
	for _, zf := range zr.File {
		rc, err := zf.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()

		contents[zf.Name] = string(body)
		names = append(names, zf.Name)
	}

	// Manifest order, marker last.
	require.Equal(t, []string{
		"R-Droid/app.exe",
		"R-Droid/helper.dll",
		"R-Droid/resources/icons/app.ico",
		"R-Droid/.portable",
	}, names)

	require.Equal(t, "MZ fake exe", contents["R-Droid/app.exe"])
	require.Equal(t, "fake icon", contents["R-Droid/resources/icons/app.ico"])
	require.Equal(t, "", contents["R-Droid/.portable"])
}

func TestPortableArchiveEmptyManifest(t *testing.T) {
	t.Parallel()

	m := &packagekit.Manifest{}

	err := PortableArchive(context.TODO(), new(bytes.Buffer), "R-Droid", m)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nothing to archive")
}

func TestPortableArchiveMissingSource(t *testing.T) {
	t.Parallel()

	m := scenarioManifest(t)
	require.NoError(t, os.Remove(m.Entries[0].SourcePath))

	err := PortableArchive(context.TODO(), new(bytes.Buffer), "R-Droid", m)
	require.Error(t, err)
}
