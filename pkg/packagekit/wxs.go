package packagekit

import (
	"context"
	"encoding/xml"
	"fmt"

	"github.com/clbanning/mxj"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"distbuilder/pkg/contexts/ctxlog"
)

const (
	wxsNamespace   = "http://wixtoolset.org/schemas/v4/wxs"
	wxsUINamespace = "http://wixtoolset.org/schemas/v4/wxs/ui"

	componentGroupID    = "ProductComponents"
	featureID           = "ProductFeature"
	mainExecutableID    = "MainExecutable"
	startMenuShortcutID = "StartMenuShortcut"
	desktopShortcutID   = "DesktopShortcut"
	pathComponentID     = "PathComponent"
)

// The document model mirrors the wix v4 authoring schema. It is built
// fully in memory, then marshalled once; nothing mutates it after
// buildDocument returns.

type wxsDocument struct {
	XMLName xml.Name `xml:"Wix"`
	Xmlns   string   `xml:"xmlns,attr"`
	XmlnsUI string   `xml:"xmlns:ui,attr"`

	Package wxsPackage `xml:"Package"`
}

type wxsPackage struct {
	Name         string `xml:"Name,attr"`
	Manufacturer string `xml:"Manufacturer,attr"`
	Version      string `xml:"Version,attr"`
	UpgradeCode  string `xml:"UpgradeCode,attr"`
	Scope        string `xml:"Scope,attr"`
	Compressed   string `xml:"Compressed,attr"`

	MajorUpgrade        wxsMajorUpgrade        `xml:"MajorUpgrade"`
	MediaTemplate       wxsMediaTemplate       `xml:"MediaTemplate"`
	StandardDirectories []wxsStandardDirectory `xml:"StandardDirectory"`
	ComponentGroup      wxsComponentGroup      `xml:"ComponentGroup"`
	Feature             wxsFeature             `xml:"Feature"`
	UI                  *wxsUIRef              `xml:"ui:WixUI,omitempty"`
	Properties          []wxsProperty          `xml:"Property,omitempty"`
}

type wxsMajorUpgrade struct {
	DowngradeErrorMessage string `xml:"DowngradeErrorMessage,attr"`
}

type wxsMediaTemplate struct {
	EmbedCab string `xml:"EmbedCab,attr"`
}

type wxsStandardDirectory struct {
	ID          string         `xml:"Id,attr"`
	Directories []wxsDirectory `xml:"Directory,omitempty"`
	Components  []wxsComponent `xml:"Component,omitempty"`
}

type wxsDirectory struct {
	ID          string         `xml:"Id,attr"`
	Name        string         `xml:"Name,attr"`
	Directories []wxsDirectory `xml:"Directory,omitempty"`
}

type wxsComponentGroup struct {
	ID         string         `xml:"Id,attr"`
	Directory  string         `xml:"Directory,attr"`
	Components []wxsComponent `xml:"Component"`
}

type wxsComponent struct {
	ID        string `xml:"Id,attr"`
	Directory string `xml:"Directory,attr,omitempty"`
	Guid      string `xml:"Guid,attr,omitempty"`

	File          *wxsFile          `xml:"File,omitempty"`
	Shortcut      *wxsShortcut      `xml:"Shortcut,omitempty"`
	RegistryValue *wxsRegistryValue `xml:"RegistryValue,omitempty"`
	Environment   *wxsEnvironment   `xml:"Environment,omitempty"`
}

type wxsFile struct {
	ID     string `xml:"Id,attr,omitempty"`
	Source string `xml:"Source,attr"`
	Name   string `xml:"Name,attr"`
}

type wxsShortcut struct {
	ID               string `xml:"Id,attr"`
	Name             string `xml:"Name,attr"`
	Target           string `xml:"Target,attr"`
	WorkingDirectory string `xml:"WorkingDirectory,attr"`
}

type wxsRegistryValue struct {
	Root    string `xml:"Root,attr"`
	Key     string `xml:"Key,attr"`
	Name    string `xml:"Name,attr"`
	Type    string `xml:"Type,attr"`
	Value   string `xml:"Value,attr"`
	KeyPath string `xml:"KeyPath,attr"`
}

type wxsEnvironment struct {
	ID        string `xml:"Id,attr"`
	Name      string `xml:"Name,attr"`
	Value     string `xml:"Value,attr"`
	Permanent string `xml:"Permanent,attr"`
	Part      string `xml:"Part,attr"`
	Action    string `xml:"Action,attr"`
	System    string `xml:"System,attr"`
}

type wxsFeature struct {
	ID    string `xml:"Id,attr"`
	Title string `xml:"Title,attr"`
	Level string `xml:"Level,attr"`

	ComponentGroupRef wxsRef   `xml:"ComponentGroupRef"`
	ComponentRefs     []wxsRef `xml:"ComponentRef,omitempty"`
}

type wxsRef struct {
	ID string `xml:"Id,attr"`
}

type wxsUIRef struct {
	ID string `xml:"Id,attr"`
}

type wxsProperty struct {
	ID    string `xml:"Id,attr"`
	Value string `xml:"Value,attr"`
}

// buildDocument assembles the package definition from a validated options
// bundle and a collected manifest. An empty manifest is an error (a
// package with no payload is meaningless), as is a duplicate component id,
// which would mean the allocator invariant broke.
func buildDocument(ctx context.Context, po *PackageOptions, m *Manifest) (*wxsDocument, error) {
	logger := ctxlog.FromContext(ctx)

	if m.Empty() {
		return nil, errors.New("empty manifest: no files to package")
	}

	seen := make(map[string]string, len(m.Entries))
	for _, e := range m.Entries {
		if prev, ok := seen[e.ComponentID]; ok {
			return nil, errors.Errorf("component id %s issued for both %s and %s", e.ComponentID, prev, e.SourcePath)
		}
		seen[e.ComponentID] = e.SourcePath
	}

	tree := BuildDirectoryTree(m)

	installDir := wxsDirectory{
		ID:   installFolderID,
		Name: po.InstallDirName,
	}
	for _, n := range tree.Roots() {
		installDir.Directories = append(installDir.Directories, directoryXML(n))
	}

	group := wxsComponentGroup{
		ID:        componentGroupID,
		Directory: installFolderID,
	}
	for _, e := range m.Entries {
		c := wxsComponent{
			ID:        e.ComponentID,
			Directory: e.DirectoryID, // empty for the root; inherits the group directory
			File: &wxsFile{
				Source: e.SourcePath,
				Name:   e.TargetName,
			},
		}
		if e.IsPrimaryExecutable {
			c.File.ID = mainExecutableID
		}
		group.Components = append(group.Components, c)
	}

	feature := wxsFeature{
		ID:                featureID,
		Title:             po.Name,
		Level:             "1",
		ComponentGroupRef: wxsRef{ID: componentGroupID},
	}

	standardDirs := []wxsStandardDirectory{
		{
			ID:          "ProgramFiles64Folder",
			Directories: []wxsDirectory{installDir},
		},
	}

	primary := m.PrimaryExecutable()
	if (po.StartMenuShortcut || po.DesktopShortcut) && primary == nil {
		level.Warn(logger).Log(
			"msg", "shortcuts requested but no primary executable was collected, skipping them",
		)
	}

	if primary != nil {
		shortcutTarget := fmt.Sprintf("[%s]%s", installFolderID, primary.TargetName)
		if po.StartMenuShortcut {
			standardDirs = append(standardDirs, wxsStandardDirectory{
				ID:         "ProgramMenuFolder",
				Components: []wxsComponent{shortcutComponent(po, startMenuShortcutID, shortcutTarget)},
			})
			feature.ComponentRefs = append(feature.ComponentRefs, wxsRef{ID: startMenuShortcutID})
		}
		if po.DesktopShortcut {
			standardDirs = append(standardDirs, wxsStandardDirectory{
				ID:         "DesktopFolder",
				Components: []wxsComponent{shortcutComponent(po, desktopShortcutID, shortcutTarget)},
			})
			feature.ComponentRefs = append(feature.ComponentRefs, wxsRef{ID: desktopShortcutID})
		}
	}

	if po.AddToPath {
		group.Components = append(group.Components, wxsComponent{
			ID:   pathComponentID,
			Guid: "*",
			Environment: &wxsEnvironment{
				ID:    "PATH",
				Name:  "PATH",
				Value: fmt.Sprintf("[%s]", installFolderID),
				// Removed on uninstall, and appended after existing
				// entries so it never shadows system binaries.
				Permanent: "no",
				Part:      "last",
				Action:    "set",
				System:    "yes",
			},
		})
		feature.ComponentRefs = append(feature.ComponentRefs, wxsRef{ID: pathComponentID})
	}

	doc := &wxsDocument{
		Xmlns:   wxsNamespace,
		XmlnsUI: wxsUINamespace,
		Package: wxsPackage{
			Name:         po.Name,
			Manufacturer: po.Publisher,
			Version:      po.Version,
			UpgradeCode:  po.UpgradeCode,
			Scope:        "perMachine",
			Compressed:   "yes",
			MajorUpgrade: wxsMajorUpgrade{
				DowngradeErrorMessage: "A newer version of [ProductName] is already installed.",
			},
			MediaTemplate:       wxsMediaTemplate{EmbedCab: "yes"},
			StandardDirectories: standardDirs,
			ComponentGroup:      group,
			Feature:             feature,
			UI:                  &wxsUIRef{ID: "WixUI_InstallDir"},
			Properties: []wxsProperty{
				{ID: "WIXUI_INSTALLDIR", Value: installFolderID},
			},
		},
	}

	return doc, nil
}

// shortcutComponent wraps a shortcut with a registry-backed key path, so
// the installer can detect a partial install and re-run the component on
// repair.
func shortcutComponent(po *PackageOptions, id, target string) wxsComponent {
	return wxsComponent{
		ID: id,
		Shortcut: &wxsShortcut{
			ID:               id,
			Name:             po.Name,
			Target:           target,
			WorkingDirectory: installFolderID,
		},
		RegistryValue: &wxsRegistryValue{
			Root:    "HKCU",
			Key:     fmt.Sprintf(`Software\%s\%s`, po.Publisher, po.Name),
			Name:    id,
			Type:    "integer",
			Value:   "1",
			KeyPath: "yes",
		},
	}
}

// directoryXML mirrors a DirectoryNode subtree into the document, each
// node exactly once, children in sorted order.
func directoryXML(n *DirectoryNode) wxsDirectory {
	d := wxsDirectory{
		ID:   n.SymbolicID,
		Name: n.Name,
	}
	for _, c := range n.Children() {
		d.Directories = append(d.Directories, directoryXML(c))
	}
	return d
}

// render marshals the document. The output is re-parsed before being
// returned; a failure there is a defect in this emitter, not a condition a
// caller can recover from.
func (d *wxsDocument) render() ([]byte, error) {
	body, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshalling wxs")
	}

	out := make([]byte, 0, len(xml.Header)+len(body)+1)
	out = append(out, []byte(xml.Header)...)
	out = append(out, body...)
	out = append(out, '\n')

	if _, err := mxj.NewMapXml(out); err != nil {
		return nil, errors.Wrap(err, "rendered wxs is not well-formed")
	}

	return out, nil
}
