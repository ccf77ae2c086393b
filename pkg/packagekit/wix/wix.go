// Package wix drives the external WiX v4 toolset. It owns binary
// discovery, the build invocation, and nothing else; everything about the
// document's content is decided upstream.
package wix

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"distbuilder/pkg/contexts/ctxlog"
)

// ErrNotFound means the toolset isn't installed anywhere we looked. The
// emitted wxs remains usable for a manual build, so callers usually treat
// this as a warning rather than a failure.
var ErrNotFound = errors.New("wix toolset not found")

// Conventional install locations, checked after PATH.
var defaultLocations = []string{
	`C:\Program Files (x86)\WiX Toolset v4\bin\wix.exe`,
	`C:\Program Files\WiX Toolset v4\bin\wix.exe`,
}

type wixTool struct {
	wixPath   string // explicit path to the wix binary, if any
	buildDir  string // scratch dir for the compile
	timeout   time.Duration
	cleanDirs []string // directories to rm on cleanup

	execCC func(context.Context, string, ...string) *exec.Cmd // allows test overrides
}

type Option func(*wixTool)

func WithWix(path string) Option {
	return func(wt *wixTool) {
		wt.wixPath = path
	}
}

func WithBuildDir(path string) Option {
	return func(wt *wixTool) {
		wt.buildDir = path
	}
}

func WithTimeout(d time.Duration) Option {
	return func(wt *wixTool) {
		wt.timeout = d
	}
}

// New returns a driver suitable for compiling packages with.
func New(opts ...Option) (*wixTool, error) {
	wt := &wixTool{
		timeout: 5 * time.Minute,
		execCC:  exec.CommandContext,
	}

	for _, opt := range opts {
		opt(wt)
	}

	if wt.buildDir == "" {
		dir, err := os.MkdirTemp("", "wix-build-dir")
		if err != nil {
			return nil, errors.Wrap(err, "making temp wix-build-dir")
		}
		wt.buildDir = dir
		wt.cleanDirs = append(wt.cleanDirs, dir)
	}

	return wt, nil
}

// Cleanup removes temp directories. Meant to be called in a defer.
func (wt *wixTool) Cleanup() {
	for _, d := range wt.cleanDirs {
		os.RemoveAll(d)
	}
}

// Package compiles wxsPath into an msi and copies the result into w,
// facilitating export to a file, buffer, or other storage backends. The
// whole build runs under the configured timeout; a non-zero exit comes
// back as an error wrapping the tool's stderr.
func (wt *wixTool) Package(ctx context.Context, w io.Writer, wxsPath string) error {
	wixExe, err := wt.locate(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, wt.timeout)
	defer cancel()

	outMsi := filepath.Join(wt.buildDir, "out.msi")
	if _, err := wt.execOut(ctx, wixExe, "build", "-o", outMsi, wxsPath); err != nil {
		return errors.Wrap(err, "running wix build")
	}

	msiFH, err := os.Open(outMsi)
	if err != nil {
		return errors.Wrap(err, "opening msi output file")
	}
	defer msiFH.Close()

	if _, err := io.Copy(w, msiFH); err != nil {
		return errors.Wrap(err, "copying output")
	}

	return nil
}

// locate finds a working wix binary: an explicit override first, then
// PATH, then the conventional install locations.
func (wt *wixTool) locate(ctx context.Context) (string, error) {
	logger := ctxlog.FromContext(ctx)

	var candidates []string
	if wt.wixPath != "" {
		candidates = append(candidates, wt.wixPath)
	} else {
		candidates = append(candidates, "wix")
		candidates = append(candidates, defaultLocations...)
	}

	for _, candidate := range candidates {
		if _, err := wt.execOut(ctx, candidate, "--version"); err != nil {
			continue
		}
		level.Debug(logger).Log("msg", "found wix", "path", candidate)
		return candidate, nil
	}

	return "", ErrNotFound
}

func (wt *wixTool) execOut(ctx context.Context, argv0 string, args ...string) (string, error) {
	logger := ctxlog.FromContext(ctx)

	cmd := wt.execCC(ctx, argv0, args...)

	level.Debug(logger).Log(
		"msg", "execing",
		"cmd", strings.Join(cmd.Args, " "),
	)

	cmd.Dir = wt.buildDir
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.Stdout, cmd.Stderr = stdout, stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "run command %s %v\nstdout=%s\nstderr=%s", argv0, args, stdout, stderr)
	}
	return strings.TrimSpace(stdout.String()), nil
}
