package packagekit

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"testing"

	"github.com/clbanning/mxj"
	"github.com/stretchr/testify/require"
)

func scenarioOptions(t *testing.T) *PackageOptions {
	t.Helper()

	po := &PackageOptions{
		Name:              "R-Droid",
		Publisher:         "R-Droid Team",
		Version:           "1.2.3",
		Executable:        "app.exe",
		DesktopShortcut:   true,
		StartMenuShortcut: true,
		AddToPath:         true,
	}
	require.NoError(t, po.Validate())
	return po
}

func scenarioManifest(t *testing.T) *Manifest {
	t.Helper()

	buildDir, trees := setupScenarioRoot(t)
	m, err := CollectManifest(context.TODO(), NewIdentifierAllocator(), buildDir, "app.exe", trees)
	require.NoError(t, err)
	return m
}

func TestEmitWXSScenario(t *testing.T) {
	t.Parallel()

	po := scenarioOptions(t)
	m := scenarioManifest(t)

	out, err := EmitWXS(context.TODO(), po, m)
	require.NoError(t, err)

	rendered := string(out)

	_, err = mxj.NewMapXml(out)
	require.NoError(t, err)

	// Three file components, the path component, and one shortcut
	// component per shortcut location.
	require.Equal(t, 6, strings.Count(rendered, "<Component "))
	require.Equal(t, 3, strings.Count(rendered, "<ComponentRef "))
	require.Equal(t, 1, strings.Count(rendered, "<Feature "))
	require.Equal(t, 1, strings.Count(rendered, "<ComponentGroup "))

	require.Contains(t, rendered, `Name="R-Droid"`)
	require.Contains(t, rendered, `Manufacturer="R-Droid Team"`)
	require.Contains(t, rendered, `Version="1.2.3"`)
	require.Contains(t, rendered, `UpgradeCode="B2CC558C-CC79-D850-BE63-7CA5163519E4"`)
	require.Contains(t, rendered, `Scope="perMachine"`)

	require.Contains(t, rendered, `Id="MainExecutable"`)
	require.Contains(t, rendered, `Target="[INSTALLFOLDER]app.exe"`)
	require.Contains(t, rendered, `Root="HKCU"`)
	require.Contains(t, rendered, `Part="last"`)
	require.Contains(t, rendered, `Id="WixUI_InstallDir"`)
	require.Contains(t, rendered, `Id="WIXUI_INSTALLDIR" Value="INSTALLFOLDER"`)

	// resources/icons renders as nested directories under the install dir.
	require.Contains(t, rendered, `Id="ProgramFiles64Folder"`)
	require.Contains(t, rendered, `Name="resources"`)
	require.Contains(t, rendered, `Name="icons"`)
}

func TestEmitWXSWithoutExtras(t *testing.T) {
	t.Parallel()

	po := scenarioOptions(t)
	po.DesktopShortcut = false
	po.StartMenuShortcut = false
	po.AddToPath = false

	out, err := EmitWXS(context.TODO(), po, scenarioManifest(t))
	require.NoError(t, err)

	rendered := string(out)
	require.Equal(t, 3, strings.Count(rendered, "<Component "))
	require.NotContains(t, rendered, "<Shortcut ")
	require.NotContains(t, rendered, "<Environment ")
	require.NotContains(t, rendered, "<ComponentRef ")
}

func TestEmitWXSShortcutsNeedPrimaryExecutable(t *testing.T) {
	t.Parallel()

	po := scenarioOptions(t)
	m := scenarioManifest(t)
	for i := range m.Entries {
		m.Entries[i].IsPrimaryExecutable = false
	}

	out, err := EmitWXS(context.TODO(), po, m)
	require.NoError(t, err)

	// Shortcuts silently drop; PATH registration does not need the exe.
	rendered := string(out)
	require.NotContains(t, rendered, "<Shortcut ")
	require.Contains(t, rendered, "<Environment ")
}

func TestEmitWXSEmptyManifest(t *testing.T) {
	t.Parallel()

	m := &Manifest{alloc: NewIdentifierAllocator()}
	_, err := EmitWXS(context.TODO(), scenarioOptions(t), m)
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty manifest")
}

func TestEmitWXSDuplicateComponentID(t *testing.T) {
	t.Parallel()

	m := &Manifest{
		Entries: []FileEntry{
			{SourcePath: "/a/x.txt", TargetName: "x.txt", ComponentID: "Component_x_txt"},
			{SourcePath: "/b/y.txt", TargetName: "y.txt", ComponentID: "Component_x_txt"},
		},
		alloc: NewIdentifierAllocator(),
	}

	_, err := EmitWXS(context.TODO(), scenarioOptions(t), m)
	require.Error(t, err)
	require.Contains(t, err.Error(), "component id")
}

func TestEmitWXSDeterministic(t *testing.T) {
	t.Parallel()

	po := scenarioOptions(t)
	m := scenarioManifest(t)

	first, err := EmitWXS(context.TODO(), po, m)
	require.NoError(t, err)

	second, err := EmitWXS(context.TODO(), po, m)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestEmitWXSIdentifiersStableAcrossVersions(t *testing.T) {
	t.Parallel()

	symbolicIDs := func(version string) []string {
		po := scenarioOptions(t)
		po.Version = version
		require.NoError(t, po.Validate())

		out, err := EmitWXS(context.TODO(), po, scenarioManifest(t))
		require.NoError(t, err)

		ids := regexp.MustCompile(`Id="((?:Dir|Component)_[A-Za-z0-9_]+)"`).FindAllStringSubmatch(string(out), -1)
		var found []string
		for _, match := range ids {
			found = append(found, match[1])
		}
		sort.Strings(found)
		return found
	}

	require.Equal(t, symbolicIDs("1.0.0"), symbolicIDs("2.0.0"))
}
