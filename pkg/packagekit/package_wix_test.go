package packagekit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestUpgradeCodeFor(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		idents []string
		out    string
	}{
		{
			idents: []string{"R-Droid Team", "R-Droid"},
			out:    "B2CC558C-CC79-D850-BE63-7CA5163519E4",
		},
		{
			idents: []string{"ExampleCo"},
			out:    "DAEE0259-4146-11CD-B8F4-F3B7983DD1E1",
		},
		{
			idents: []string{"ExampleCo", "App"},
			out:    "96B87D11-2263-813E-5454-0100DAE4EC5B",
		},
	}

	for _, tt := range tests {
		code := upgradeCodeFor(tt.idents[0], tt.idents[1:]...)
		require.Equal(t, tt.out, code)

		_, err := uuid.Parse(code)
		require.NoError(t, err)

		// Stable across calls.
		require.Equal(t, code, upgradeCodeFor(tt.idents[0], tt.idents[1:]...))
	}
}

func TestWriteWXS(t *testing.T) {
	t.Parallel()

	po := scenarioOptions(t)
	m := scenarioManifest(t)

	outputDir := filepath.Join(t.TempDir(), "dist")

	wxsPath, err := WriteWXS(context.TODO(), po, m, outputDir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(outputDir, "r-droid.wxs"), wxsPath)

	onDisk, err := os.ReadFile(wxsPath)
	require.NoError(t, err)

	rendered, err := EmitWXS(context.TODO(), po, m)
	require.NoError(t, err)
	require.Equal(t, rendered, onDisk)
}

func TestWriteWXSFailureWritesNothing(t *testing.T) {
	t.Parallel()

	outputDir := filepath.Join(t.TempDir(), "dist")

	m := &Manifest{alloc: NewIdentifierAllocator()}
	_, err := WriteWXS(context.TODO(), scenarioOptions(t), m, outputDir)
	require.Error(t, err)

	_, err = os.Stat(outputDir)
	require.True(t, os.IsNotExist(err))
}
