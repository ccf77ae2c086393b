// Package dist assembles the non-msi distribution artifacts: the portable
// zip and the checksum manifest. Both read the same immutable manifest and
// write to disjoint outputs, so callers are free to run them alongside the
// msi compile.
package dist

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"distbuilder/pkg/contexts/ctxlog"
	"distbuilder/pkg/packagekit"
)

// portableMarker is an empty file dropped at the archive root so the
// application can detect it is running from a portable unpack.
const portableMarker = ".portable"

// PortableArchive writes the manifest's file set into w as a zip laid out
// under a single rootName folder, in manifest order.
func PortableArchive(ctx context.Context, w io.Writer, rootName string, m *packagekit.Manifest) error {
	ctx, span := trace.StartSpan(ctx, "dist.PortableArchive")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	if m.Empty() {
		return errors.New("empty manifest: nothing to archive")
	}

	zw := zip.NewWriter(w)

	for _, e := range m.Entries {
		if err := addToZip(zw, rootName, e); err != nil {
			return err
		}
	}

	if _, err := zw.Create(path.Join(rootName, portableMarker)); err != nil {
		return errors.Wrap(err, "creating portable marker")
	}

	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "finalizing zip")
	}

	level.Debug(logger).Log(
		"msg", "assembled portable archive",
		"root", rootName,
		"files", len(m.Entries),
	)

	return nil
}

func addToZip(zw *zip.Writer, rootName string, e packagekit.FileEntry) error {
	fh, err := os.Open(e.SourcePath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", e.SourcePath)
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %s", e.SourcePath)
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return errors.Wrapf(err, "zip header for %s", e.SourcePath)
	}

	segs := make([]string, 0, len(e.TargetDir)+2)
	segs = append(segs, rootName)
	segs = append(segs, e.TargetDir...)
	segs = append(segs, e.TargetName)
	hdr.Name = path.Join(segs...)
	hdr.Method = zip.Deflate

	zf, err := zw.CreateHeader(hdr)
	if err != nil {
		return errors.Wrapf(err, "creating zip entry %s", hdr.Name)
	}

	if _, err := io.Copy(zf, fh); err != nil {
		return errors.Wrapf(err, "writing zip entry %s", hdr.Name)
	}

	return nil
}
