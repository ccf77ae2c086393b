package main

import (
	"context"
	"flag"
	"path/filepath"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/peterbourgon/ff/v3"

	"distbuilder/pkg/contexts/ctxlog"
	"distbuilder/pkg/make"
	"distbuilder/pkg/packagekit"
)

func runBuildAll(args []string) error {
	flagset := flag.NewFlagSet("build-all", flag.ExitOnError)
	var (
		flDebug = flagset.Bool(
			"debug",
			false,
			"enable debug logging",
		)
		flDebugBuild = flagset.Bool(
			"debug_build",
			false,
			"build the debug profile instead of release",
		)
		flSkipTests = flagset.Bool(
			"skip_tests",
			false,
			"skip running the upstream test suite",
		)
		flSkipInstaller = flagset.Bool(
			"skip_installer",
			false,
			"skip generating the installer and portable packages",
		)
		flClean = flagset.Bool(
			"clean",
			false,
			"clean previous build artifacts first",
		)
		flVersion = flagset.String(
			"version",
			"",
			"override the version read from Cargo.toml",
		)
		flProjectDir = flagset.String(
			"project_dir",
			".",
			"root of the upstream project",
		)
		flCargoPath = flagset.String(
			"cargo_path",
			"",
			"explicit path to the cargo binary",
		)
		flOutput = flagset.String(
			"output",
			"dist",
			"output directory for the generated artifacts",
		)
	)

	flagset.Usage = usageFor(flagset, "dist-builder build-all [flags]")
	if err := ff.Parse(flagset, args, ff.WithEnvVarPrefix("DIST_BUILDER")); err != nil {
		return err
	}

	logger := newLogger(*flDebug)
	ctx := ctxlog.NewContext(context.Background(), logger)

	buildOpts := []make.Option{make.WithProjectDir(*flProjectDir)}
	if *flCargoPath != "" {
		buildOpts = append(buildOpts, make.WithCargo(*flCargoPath))
	}
	if !*flDebugBuild {
		buildOpts = append(buildOpts, make.WithRelease())
	}
	if *flSkipTests {
		buildOpts = append(buildOpts, make.WithSkipTests())
	}
	b := make.New(buildOpts...)

	// No toolchain, no artifacts. This one is fatal.
	if err := b.CheckToolchain(ctx); err != nil {
		return err
	}

	if err := b.EnsureTargets(ctx); err != nil {
		return err
	}

	buildVersion := *flVersion
	if buildVersion == "" {
		buildVersion = make.VersionFromManifest(ctx, filepath.Join(*flProjectDir, "Cargo.toml"))
	}
	level.Info(logger).Log("msg", "building", "version", buildVersion)

	if *flClean {
		if err := b.Clean(ctx, *flOutput); err != nil {
			return err
		}
	}

	if err := b.Test(ctx); err != nil {
		return err
	}

	if err := b.Build(ctx); err != nil {
		return err
	}

	if !*flSkipInstaller {
		cfg := &installerConfig{
			opts: packagekit.PackageOptions{
				Name:              defaultProductName,
				Publisher:         defaultPublisher,
				Version:           buildVersion,
				Executable:        defaultExecutable,
				DesktopShortcut:   true,
				StartMenuShortcut: true,
				AddToPath:         true,
			},
			buildDir:  b.ArtifactDir(),
			trees:     parseResourceTrees(defaultResources),
			outputDir: *flOutput,
			portable:  true,
			timeout:   5 * time.Minute,
		}
		if err := buildInstaller(ctx, cfg); err != nil {
			level.Warn(logger).Log(
				"msg", "installer generation failed, build artifacts remain in the target dir",
				"err", err,
			)
		}
	}

	notesPath, err := writeReleaseNotes(*flOutput, defaultProductName, buildVersion)
	if err != nil {
		return err
	}

	level.Info(logger).Log(
		"msg", "build complete",
		"output", *flOutput,
		"release_notes", notesPath,
	)

	return nil
}
