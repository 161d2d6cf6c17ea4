package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	selfupdate "github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"

	"github.com/musher-dev/cputally/internal/buildinfo"
	clierrors "github.com/musher-dev/cputally/internal/errors"
	"github.com/musher-dev/cputally/internal/output"
	"github.com/musher-dev/cputally/internal/update"
)

func newUpdateCmd() *cobra.Command {
	var (
		targetVersion string
		checkOnly     bool
		force         bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update cputally to the latest release",
		Long: `Replace this binary with the latest cputally release from GitHub.

The downloaded archive is verified against the release checksums before the
executable is swapped. When the binary's directory is not writable, the
command reruns itself under sudo. Set CPUTALLY_UPDATE_DISABLED=1 to turn
updates off.`,
		Example: `  cputally update
  cputally update --check --json
  cputally update --version 0.4.0`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			if update.Disabled() {
				out.Warning("Updates are disabled (%s is set)", update.DisabledEnv)
				return nil
			}

			updater, err := update.New()
			if err != nil {
				return clierrors.Wrap(clierrors.ExitGeneral, "Failed to initialize updater", err)
			}

			if targetVersion != "" {
				return installVersion(cmd.Context(), out, updater, targetVersion)
			}

			return updateLatest(cmd.Context(), out, updater, checkOnly, force)
		},
	}

	cmd.Flags().StringVar(&targetVersion, "version", "", "Install a specific version (e.g. 0.4.0)")
	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only report whether an update is available")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Reinstall even when already up to date")

	return cmd
}

func updateLatest(ctx context.Context, out *output.Writer, updater *update.Updater, checkOnly, force bool) error {
	current := buildinfo.Version

	if current == "dev" && !checkOnly {
		out.Warning("Development build; the installed version is unknown")
		out.Info("Install a release build from %s", update.ReleasesURL)

		return nil
	}

	var spin *output.Spinner
	if !out.JSON {
		spin = out.Spinner("Checking for updates")
		spin.Start()
	}

	info, err := updater.Latest(ctx, current)
	if err != nil {
		if spin != nil {
			spin.StopWithFailure("")
		}

		cliErr := clierrors.Wrap(clierrors.ExitGeneral, "Update check failed", err)
		if strings.Contains(err.Error(), "403") {
			cliErr = cliErr.WithHint("Set GITHUB_TOKEN to avoid GitHub API rate limits")
		}

		return cliErr
	}

	_ = update.Record(info, time.Now())

	if out.JSON {
		return out.PrintJSON(info)
	}

	if checkOnly || (!info.UpdateAvailable && !force) {
		if info.UpdateAvailable {
			spin.StopWithSuccess(fmt.Sprintf("Update available: v%s -> v%s", current, info.LatestVersion))
			out.Info("Run 'cputally update' to install it")
		} else {
			spin.StopWithSuccess(fmt.Sprintf("Already up to date (v%s)", info.LatestVersion))
		}

		return nil
	}

	if info.Release == nil {
		spin.StopWithFailure("")
		return clierrors.New(clierrors.ExitGeneral, "No release found for this platform")
	}

	spin.StopWithSuccess(fmt.Sprintf("Installing v%s", info.LatestVersion))

	if elevated, err := elevateIfNeeded(); elevated || err != nil {
		return err
	}

	spin = out.Spinner(fmt.Sprintf("Downloading v%s", info.LatestVersion))
	spin.Start()

	if err := updater.Install(ctx, info.Release); err != nil {
		spin.StopWithFailure("")
		return clierrors.Wrap(clierrors.ExitGeneral, "Update failed", err)
	}

	spin.StopWithSuccess(fmt.Sprintf("Updated to v%s", info.LatestVersion))

	if info.ReleaseURL != "" {
		out.Muted("Release notes: %s", info.ReleaseURL)
	}

	return nil
}

func installVersion(ctx context.Context, out *output.Writer, updater *update.Updater, version string) error {
	if elevated, err := elevateIfNeeded(); elevated || err != nil {
		return err
	}

	var spin *output.Spinner
	if !out.JSON {
		spin = out.Spinner(fmt.Sprintf("Installing %s", version))
		spin.Start()
	}

	release, err := updater.InstallVersion(ctx, version)
	if err != nil {
		if spin != nil {
			spin.StopWithFailure("")
		}

		return clierrors.Wrap(clierrors.ExitGeneral, "Install failed", err).
			WithHint("Check available versions at " + update.ReleasesURL)
	}

	if spin != nil {
		spin.StopWithSuccess(fmt.Sprintf("Installed v%s", release.Version()))
	}

	return nil
}

// elevateIfNeeded reruns the command under sudo when the binary cannot be
// replaced by this user. elevated is true only if control passed to sudo.
func elevateIfNeeded() (elevated bool, err error) {
	execPath, err := selfupdate.ExecutablePath()
	if err != nil || !update.NeedsElevation(execPath) {
		return false, nil //nolint:nilerr // install reports its own path error
	}

	if err = update.ReExecWithSudo(); err != nil {
		return false, clierrors.Wrap(clierrors.ExitGeneral, "Could not gain permission to replace the binary", err).
			WithHint("Rerun this command with sudo or move cputally to a writable directory")
	}

	return true, nil
}
