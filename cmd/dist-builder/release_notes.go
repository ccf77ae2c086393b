package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/pkg/errors"
)

// releaseNotesTemplate is a starting point for the person cutting the
// release, written next to the artifacts it describes.
var releaseNotesTemplate = template.Must(template.New("ReleaseNotes").Parse(
	`# {{.Product}} v{{.Version}} Release Notes

Released: {{.Date}}

## What's New

### Features
- [Add your features here]

### Bug Fixes
- [Add your bug fixes here]

## Installation

### Windows MSI Installer
1. Download ` + "`{{.Product}}-{{.Version}}-x64.msi`" + `
2. Run the installer and follow the wizard

### Portable Version
1. Download ` + "`{{.Product}}-{{.Version}}-portable-x64.zip`" + `
2. Extract to your preferred location

## Checksums

See ` + "`SHA256SUMS.txt`" + ` for file checksums.
`))

func writeReleaseNotes(outputDir, product, version string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", errors.Wrapf(err, "making output dir %s", outputDir)
	}

	var buf bytes.Buffer
	err := releaseNotesTemplate.Execute(&buf, struct {
		Product string
		Version string
		Date    string
	}{
		Product: product,
		Version: version,
		Date:    time.Now().Format("2006-01-02"),
	})
	if err != nil {
		return "", errors.Wrap(err, "executing ReleaseNotes template")
	}

	notesPath := filepath.Join(outputDir, fmt.Sprintf("RELEASE_NOTES_%s.md", version))
	if err := os.WriteFile(notesPath, buf.Bytes(), 0644); err != nil {
		return "", errors.Wrapf(err, "writing %s", notesPath)
	}

	return notesPath, nil
}
