/* Package make drives the upstream cargo build that produces the
artifacts we package.

This used to live in shell and python glue, but keeping it in go lets the
CLI own the whole pipeline with one set of logging and error handling, and
makes the external invocations mockable in tests.
*/

package make

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver"
	"github.com/go-kit/kit/log/level"
	"github.com/pelletier/go-toml/v2"
	"go.opencensus.io/trace"

	"distbuilder/pkg/contexts/ctxlog"
)

// minimumRustVersion is the oldest toolchain the project builds with.
const minimumRustVersion = ">= 1.70"

// androidTargets are the cross-compilation targets the upstream build
// needs. rustup installs are idempotent, so these are reconciled before
// every build.
var androidTargets = []string{
	"aarch64-linux-android",
	"armv7-linux-androideabi",
	"i686-linux-android",
	"x86_64-linux-android",
}

type Builder struct {
	cargoPath  string
	projectDir string
	release    bool
	skipTests  bool

	cmdEnv []string
	execCC func(context.Context, string, ...string) *exec.Cmd
}

type Option func(*Builder)

func WithCargo(path string) Option {
	return func(b *Builder) {
		b.cargoPath = path
	}
}

func WithProjectDir(dir string) Option {
	return func(b *Builder) {
		b.projectDir = dir
	}
}

func WithRelease() Option {
	return func(b *Builder) {
		b.release = true
	}
}

func WithSkipTests() Option {
	return func(b *Builder) {
		b.skipTests = true
	}
}

func New(opts ...Option) *Builder {
	b := &Builder{
		cargoPath: "cargo",
		execCC:    exec.CommandContext,
	}

	for _, opt := range opts {
		opt(b)
	}

	b.cmdEnv = os.Environ()

	return b
}

// ArtifactDir is where cargo leaves the built binaries for the configured
// profile.
func (b *Builder) ArtifactDir() string {
	profile := "debug"
	if b.release {
		profile = "release"
	}
	return filepath.Join(b.projectDir, "target", profile)
}

// CheckToolchain verifies that rustc and cargo are present and that rustc
// meets the minimum version. A missing toolchain is fatal for a build run;
// there is nothing to package without it.
func (b *Builder) CheckToolchain(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "make.CheckToolchain")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	rustcOut, err := b.execOut(ctx, "rustc", "--version")
	if err != nil {
		return fmt.Errorf("rust toolchain not found, install from https://rustup.rs/: %w", err)
	}

	if err := rustVersionCompatible(rustcOut); err != nil {
		return err
	}

	cargoOut, err := b.execOut(ctx, b.cargoPath, "--version")
	if err != nil {
		return fmt.Errorf("cargo not found, install from https://rustup.rs/: %w", err)
	}

	level.Debug(logger).Log(
		"msg", "found rust toolchain",
		"rustc", rustcOut,
		"cargo", cargoOut,
	)

	return nil
}

// EnsureTargets installs whichever cross-compilation targets rustup does
// not already have.
func (b *Builder) EnsureTargets(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "make.EnsureTargets")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	out, err := b.execOut(ctx, "rustup", "target", "list", "--installed")
	if err != nil {
		return fmt.Errorf("listing installed rustup targets: %w", err)
	}

	installed := make(map[string]bool)
	for _, target := range strings.Fields(out) {
		installed[target] = true
	}

	for _, target := range androidTargets {
		if installed[target] {
			continue
		}
		level.Info(logger).Log("msg", "installing rustup target", "target", target)
		if _, err := b.execOut(ctx, "rustup", "target", "add", target); err != nil {
			return fmt.Errorf("adding rustup target %s: %w", target, err)
		}
	}

	return nil
}

// rustVersionCompatible parses a `rustc --version` line ("rustc 1.74.0
// (79e9716c9 2023-11-13)") and checks it against the minimum constraint.
func rustVersionCompatible(versionOutput string) error {
	fields := strings.Fields(versionOutput)
	if len(fields) < 2 {
		return fmt.Errorf("unexpected rustc version output %q", versionOutput)
	}

	rustVer, err := semver.NewVersion(fields[1])
	if err != nil {
		return fmt.Errorf("parse rustc version %q as semver: %w", fields[1], err)
	}

	c, _ := semver.NewConstraint(minimumRustVersion)
	if !c.Check(rustVer) {
		return fmt.Errorf("project requires rust version %s, have %s", minimumRustVersion, rustVer)
	}
	return nil
}

// Test runs the workspace test suite, unless the builder was configured to
// skip it.
func (b *Builder) Test(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "make.Test")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	if b.skipTests {
		level.Debug(logger).Log("msg", "skipping tests")
		return nil
	}

	return b.runCargo(ctx, "test", "--workspace")
}

// Build compiles the workspace for the configured profile.
func (b *Builder) Build(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "make.Build")
	defer span.End()

	args := []string{"build", "--workspace"}
	if b.release {
		args = append(args, "--release")
	}

	return b.runCargo(ctx, args...)
}

// Clean removes previous build artifacts, plus any extra output
// directories the caller wants gone (the dist dir on a clean rebuild).
func (b *Builder) Clean(ctx context.Context, extraDirs ...string) error {
	ctx, span := trace.StartSpan(ctx, "make.Clean")
	defer span.End()

	if err := b.runCargo(ctx, "clean"); err != nil {
		return err
	}

	for _, d := range extraDirs {
		if err := os.RemoveAll(d); err != nil {
			return fmt.Errorf("removing %s: %w", d, err)
		}
	}

	return nil
}

// runCargo streams a cargo invocation to the console. Build and test
// output is for the person watching the build, not for the log pipeline.
func (b *Builder) runCargo(ctx context.Context, args ...string) error {
	logger := ctxlog.FromContext(ctx)

	level.Debug(logger).Log(
		"msg", "running cargo",
		"args", strings.Join(args, " "),
	)

	cmd := b.execCC(ctx, b.cargoPath, args...)
	cmd.Dir = b.projectDir
	cmd.Env = append(cmd.Env, b.cmdEnv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run cargo %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

func (b *Builder) execOut(ctx context.Context, argv0 string, args ...string) (string, error) {
	cmd := b.execCC(ctx, argv0, args...)
	cmd.Dir = b.projectDir
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.Stdout, cmd.Stderr = stdout, stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run command %s %v, stderr=%s: %w", argv0, args, stderr, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// cargoManifest mirrors the bits of Cargo.toml we read. The version can
// live on the package itself or be inherited from the workspace.
type cargoManifest struct {
	Package struct {
		Version string `toml:"version"`
	} `toml:"package"`
	Workspace struct {
		Package struct {
			Version string `toml:"version"`
		} `toml:"package"`
	} `toml:"workspace"`
}

// VersionFromManifest reads the project version out of a Cargo.toml,
// falling back to a date-derived version when no manifest is readable.
func VersionFromManifest(ctx context.Context, manifestPath string) string {
	logger := ctxlog.FromContext(ctx)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		level.Warn(logger).Log(
			"msg", "no readable Cargo.toml, using date-derived version",
			"path", manifestPath,
			"err", err,
		)
		return fallbackVersion()
	}

	var man cargoManifest
	if err := toml.Unmarshal(data, &man); err != nil {
		level.Warn(logger).Log(
			"msg", "unparseable Cargo.toml, using date-derived version",
			"path", manifestPath,
			"err", err,
		)
		return fallbackVersion()
	}

	if man.Package.Version != "" {
		return man.Package.Version
	}
	if man.Workspace.Package.Version != "" {
		return man.Workspace.Package.Version
	}

	level.Warn(logger).Log(
		"msg", "Cargo.toml carries no version, using date-derived version",
		"path", manifestPath,
	)
	return fallbackVersion()
}

func fallbackVersion() string {
	return fmt.Sprintf("0.%s", time.Now().Format("2006.0102"))
}
