package packagekit

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"distbuilder/pkg/contexts/ctxlog"
	"distbuilder/pkg/packagekit/wix"
)

// EmitWXS builds and renders the package definition for a manifest. The
// returned bytes are a complete, well-formed document; nothing is written
// to disk here.
func EmitWXS(ctx context.Context, po *PackageOptions, m *Manifest) ([]byte, error) {
	ctx, span := trace.StartSpan(ctx, "packagekit.EmitWXS")
	defer span.End()

	doc, err := buildDocument(ctx, po, m)
	if err != nil {
		return nil, errors.Wrap(err, "building package definition")
	}

	rendered, err := doc.render()
	if err != nil {
		return nil, errors.Wrap(err, "rendering package definition")
	}

	return rendered, nil
}

// WriteWXS emits the package definition into outputDir and returns its
// path. The document is fully constructed and validated before the single
// write, so a failed run never leaves a partial file behind.
func WriteWXS(ctx context.Context, po *PackageOptions, m *Manifest, outputDir string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "packagekit.WriteWXS")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	rendered, err := EmitWXS(ctx, po, m)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", errors.Wrapf(err, "making output dir %s", outputDir)
	}

	wxsPath := filepath.Join(outputDir, fmt.Sprintf("%s.wxs", strings.ToLower(po.InstallDirName)))
	if err := os.WriteFile(wxsPath, rendered, 0644); err != nil {
		return "", errors.Wrapf(err, "writing %s", wxsPath)
	}

	level.Debug(logger).Log(
		"msg", "wrote package definition",
		"path", wxsPath,
		"files", len(m.Entries),
	)

	return wxsPath, nil
}

// PackageWixMSI compiles an emitted definition with the external wix
// toolset, copying the resulting msi into w. A missing toolset surfaces as
// wix.ErrNotFound; callers generally downgrade both that and a failed
// build to a warning, since the wxs remains usable for manual compilation.
func PackageWixMSI(ctx context.Context, w io.Writer, wxsPath string, wixOpts ...wix.Option) error {
	ctx, span := trace.StartSpan(ctx, "packagekit.PackageWixMSI")
	defer span.End()

	wixTool, err := wix.New(wixOpts...)
	if err != nil {
		return errors.Wrap(err, "setting up wix")
	}
	defer wixTool.Cleanup()

	if err := wixTool.Package(ctx, w, wxsPath); err != nil {
		return errors.Wrap(err, "making msi")
	}

	return nil
}

// upgradeCodeFor derives a stable guid from the publisher and product
// name. The upgrade code has to be identical for every version of a
// product, so it is generated predictably from inputs that don't change
// release to release. See
// https://docs.microsoft.com/en-us/windows/desktop/Msi/upgradecode
func upgradeCodeFor(ident1 string, identN ...string) string {
	h := md5.New()
	io.WriteString(h, ident1)
	for _, s := range identN {
		io.WriteString(h, s)
	}

	hash := h.Sum(nil)

	return fmt.Sprintf("%X-%X-%X-%X-%X", hash[0:4], hash[4:6], hash[6:8], hash[8:10], hash[10:16])
}
