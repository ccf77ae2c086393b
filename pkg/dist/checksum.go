package dist

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"distbuilder/pkg/contexts/ctxlog"
)

// ChecksumFileName is the manifest written next to the artifacts it covers.
const ChecksumFileName = "SHA256SUMS.txt"

// WriteChecksums writes one "<hex digest>  <file name>" line per path, in
// the order given. Paths that don't exist are skipped with a warning; an
// artifact whose step was skipped or failed simply has no line.
func WriteChecksums(ctx context.Context, w io.Writer, paths []string) error {
	ctx, span := trace.StartSpan(ctx, "dist.WriteChecksums")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	for _, p := range paths {
		fh, err := os.Open(p)
		if os.IsNotExist(err) {
			level.Warn(logger).Log("msg", "skipping checksum for missing artifact", "path", p)
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "opening %s", p)
		}

		h := sha256.New()
		_, err = io.Copy(h, fh)
		fh.Close()
		if err != nil {
			return errors.Wrapf(err, "hashing %s", p)
		}

		if _, err := fmt.Fprintf(w, "%x  %s\n", h.Sum(nil), filepath.Base(p)); err != nil {
			return errors.Wrap(err, "writing checksum line")
		}
	}

	return nil
}

// ChecksumFile writes the checksum manifest covering paths into outputDir
// and returns its location. The file is built in memory and written once.
func ChecksumFile(ctx context.Context, outputDir string, paths []string) (string, error) {
	var buf bytes.Buffer
	if err := WriteChecksums(ctx, &buf, paths); err != nil {
		return "", err
	}

	sumPath := filepath.Join(outputDir, ChecksumFileName)
	if err := os.WriteFile(sumPath, buf.Bytes(), 0644); err != nil {
		return "", errors.Wrapf(err, "writing %s", sumPath)
	}

	return sumPath, nil
}
