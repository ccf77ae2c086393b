package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/peterbourgon/ff/v3"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"distbuilder/pkg/contexts/ctxlog"
	"distbuilder/pkg/dist"
	"distbuilder/pkg/packagekit"
	"distbuilder/pkg/packagekit/wix"
)

const (
	defaultProductName = "R-Droid"
	defaultPublisher   = "R-Droid Team"
	defaultExecutable  = "r-droid.exe"
	defaultResources   = "resources,assets"
)

// installerConfig is everything the installer pipeline needs, independent
// of how the flags were parsed.
type installerConfig struct {
	opts      packagekit.PackageOptions
	buildDir  string
	trees     []packagekit.ResourceTree
	outputDir string
	portable  bool
	noMSI     bool
	wixPath   string
	timeout   time.Duration
}

func runBuildInstaller(args []string) error {
	flagset := flag.NewFlagSet("build-installer", flag.ExitOnError)
	var (
		flDebug = flagset.Bool(
			"debug",
			false,
			"enable debug logging",
		)
		flProductName = flagset.String(
			"product_name",
			defaultProductName,
			"product name shown in installer metadata",
		)
		flPublisher = flagset.String(
			"publisher",
			defaultPublisher,
			"publisher shown in installer metadata",
		)
		flUpgradeCode = flagset.String(
			"upgrade_code",
			"",
			"fixed upgrade GUID; derived from publisher and product name when empty",
		)
		flVersion = flagset.String(
			"version",
			"0.1.0",
			"product version",
		)
		flExecutable = flagset.String(
			"executable",
			defaultExecutable,
			"primary executable file name inside the build output",
		)
		flBuildDir = flagset.String(
			"build_dir",
			filepath.Join("target", "release"),
			"build output directory holding the executable and shared libraries",
		)
		flResources = flagset.String(
			"resources",
			defaultResources,
			"comma separated resource trees, each a path or name=path",
		)
		flOutput = flagset.String(
			"output",
			"dist",
			"output directory for the generated artifacts",
		)
		flPortable = flagset.Bool(
			"portable",
			false,
			"also assemble the portable zip distribution",
		)
		flNoMSI = flagset.Bool(
			"no_msi",
			false,
			"skip msi compilation; the wxs definition is still written",
		)
		flDesktopShortcut = flagset.Bool(
			"desktop_shortcut",
			true,
			"create a desktop shortcut",
		)
		flStartMenuShortcut = flagset.Bool(
			"start_menu_shortcut",
			true,
			"create a start menu shortcut",
		)
		flAddToPath = flagset.Bool(
			"add_to_path",
			true,
			"register the install directory on the system PATH",
		)
		flWixPath = flagset.String(
			"wix_path",
			"",
			"explicit path to the wix binary",
		)
		flTimeout = flagset.Duration(
			"timeout",
			5*time.Minute,
			"timeout for the external wix build",
		)
	)

	flagset.Usage = usageFor(flagset, "dist-builder build-installer [flags]")
	if err := ff.Parse(flagset, args, ff.WithEnvVarPrefix("DIST_BUILDER")); err != nil {
		return err
	}

	logger := newLogger(*flDebug)
	ctx := ctxlog.NewContext(context.Background(), logger)

	cfg := &installerConfig{
		opts: packagekit.PackageOptions{
			Name:              *flProductName,
			Publisher:         *flPublisher,
			Version:           *flVersion,
			UpgradeCode:       *flUpgradeCode,
			Executable:        *flExecutable,
			DesktopShortcut:   *flDesktopShortcut,
			StartMenuShortcut: *flStartMenuShortcut,
			AddToPath:         *flAddToPath,
		},
		buildDir:  *flBuildDir,
		trees:     parseResourceTrees(*flResources),
		outputDir: *flOutput,
		portable:  *flPortable,
		noMSI:     *flNoMSI,
		wixPath:   *flWixPath,
		timeout:   *flTimeout,
	}

	return buildInstaller(ctx, cfg)
}

// parseResourceTrees splits a "path,name=path" list. A bare path names the
// tree after its base directory.
func parseResourceTrees(s string) []packagekit.ResourceTree {
	var trees []packagekit.ResourceTree
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, root := "", part
		if i := strings.IndexByte(part, '='); i >= 0 {
			name, root = part[:i], part[i+1:]
		}
		if name == "" {
			name = filepath.Base(root)
		}

		trees = append(trees, packagekit.ResourceTree{Name: name, Root: root})
	}
	return trees
}

// buildInstaller is the whole generation pipeline: collect the manifest,
// write the package definition, compile the msi and assemble the portable
// zip side by side, then checksum whatever was produced. A failed msi
// compile is a warning; the definition remains usable for a manual build.
func buildInstaller(ctx context.Context, cfg *installerConfig) error {
	logger := ctxlog.FromContext(ctx)

	if err := cfg.opts.Validate(); err != nil {
		return err
	}

	alloc := packagekit.NewIdentifierAllocator()
	m, err := packagekit.CollectManifest(ctx, alloc, cfg.buildDir, cfg.opts.Executable, cfg.trees)
	if err != nil {
		return err
	}
	if m.Empty() {
		return errors.New("no files collected: nothing to package")
	}

	wxsPath, err := packagekit.WriteWXS(ctx, &cfg.opts, m, cfg.outputDir)
	if err != nil {
		return err
	}

	msiPath := filepath.Join(cfg.outputDir, fmt.Sprintf("%s-%s-x64.msi", cfg.opts.InstallDirName, cfg.opts.Version))
	zipPath := filepath.Join(cfg.outputDir, fmt.Sprintf("%s-%s-portable-x64.zip", cfg.opts.InstallDirName, cfg.opts.Version))

	// The msi compile and the portable assembly read the same immutable
	// manifest and write to disjoint paths.
	var g errgroup.Group

	if !cfg.noMSI {
		g.Go(func() error {
			if err := compileMSI(ctx, cfg, wxsPath, msiPath); err != nil {
				level.Warn(logger).Log(
					"msg", "msi compilation failed, definition retained for manual compilation",
					"wxs", wxsPath,
					"err", err,
				)
			}
			return nil
		})
	}

	if cfg.portable {
		g.Go(func() error {
			return assemblePortable(ctx, cfg, m, zipPath)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	artifacts := []string{wxsPath, msiPath, zipPath}
	sumPath, err := dist.ChecksumFile(ctx, cfg.outputDir, artifacts)
	if err != nil {
		return err
	}

	level.Info(logger).Log(
		"msg", "build complete",
		"output", cfg.outputDir,
		"checksums", sumPath,
	)

	return nil
}

func compileMSI(ctx context.Context, cfg *installerConfig, wxsPath, msiPath string) error {
	out, err := os.Create(msiPath)
	if err != nil {
		return errors.Wrapf(err, "creating %s", msiPath)
	}

	wixOpts := []wix.Option{wix.WithTimeout(cfg.timeout)}
	if cfg.wixPath != "" {
		wixOpts = append(wixOpts, wix.WithWix(cfg.wixPath))
	}

	if err := packagekit.PackageWixMSI(ctx, out, wxsPath, wixOpts...); err != nil {
		out.Close()
		os.Remove(msiPath) // no partial msi next to a good wxs
		return err
	}

	return out.Close()
}

func assemblePortable(ctx context.Context, cfg *installerConfig, m *packagekit.Manifest, zipPath string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return errors.Wrapf(err, "creating %s", zipPath)
	}

	if err := dist.PortableArchive(ctx, out, cfg.opts.InstallDirName, m); err != nil {
		out.Close()
		os.Remove(zipPath)
		return err
	}

	return out.Close()
}
