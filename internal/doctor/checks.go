package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/musher-dev/cputally/internal/buildinfo"
	"github.com/musher-dev/cputally/internal/completion"
	"github.com/musher-dev/cputally/internal/config"
	"github.com/musher-dev/cputally/internal/pidfd"
	"github.com/musher-dev/cputally/internal/runner"
	"github.com/musher-dev/cputally/internal/update"
)

// MinKernel is the oldest kernel with PIDFD_NONBLOCK and waitid(P_PIDFD).
const MinKernel = "5.10"

var minKernel = semver.MustParse(MinKernel)

// kernelRelease is replaced in tests.
var kernelRelease = unameRelease

var releasePattern = regexp.MustCompile(`^(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseKernelRelease extracts major.minor.patch from a uname release string
// such as "6.8.0-45-generic" or "5.10.216-fc".
func ParseKernelRelease(release string) (*semver.Version, error) {
	m := releasePattern.FindStringSubmatch(strings.TrimSpace(release))
	if m == nil {
		return nil, fmt.Errorf("unrecognized kernel release %q", release)
	}

	patch := m[3]
	if patch == "" {
		patch = "0"
	}

	return semver.NewVersion(m[1] + "." + m[2] + "." + patch)
}

func checkKernel(_ context.Context) Result {
	release, err := kernelRelease()
	if err != nil {
		if errors.Is(err, errors.ErrUnsupported) {
			return Result{
				Status:  StatusFail,
				Message: "Not Linux",
				Detail:  "Process completion needs Linux pidfd support",
			}
		}

		return Result{Status: StatusFail, Message: "Unknown", Detail: err.Error()}
	}

	v, err := ParseKernelRelease(release)
	if err != nil {
		return Result{Status: StatusWarn, Message: release, Detail: err.Error()}
	}

	if v.LessThan(minKernel) {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s (need >= %s)", release, MinKernel),
			Detail:  "PIDFD_NONBLOCK and waitid(P_PIDFD) are unavailable on this kernel",
		}
	}

	return Result{Status: StatusPass, Message: release}
}

func checkPidfdOpen(_ context.Context) Result {
	h, err := pidfd.Open(os.Getpid(), pidfd.NonBlock)
	if err != nil {
		return Result{Status: StatusFail, Message: "Unavailable", Detail: err.Error()}
	}
	defer h.Close()

	return Result{Status: StatusPass, Message: fmt.Sprintf("nonblocking pidfd for pid %d", h.Pid())}
}

// probeProgram is a child that exits immediately on any Linux host.
const probeProgram = "true"

func checkWaitid(_ context.Context) Result {
	if _, err := exec.LookPath(probeProgram); err != nil {
		return Result{Status: StatusWarn, Message: "Skipped", Detail: fmt.Sprintf("%s not in PATH", probeProgram)}
	}

	p, err := completion.Spawn(completion.CommandSpec{Program: probeProgram})
	if err != nil {
		return Result{Status: StatusFail, Message: "Spawn failed", Detail: err.Error()}
	}
	defer p.Close()

	u, err := p.Wait()
	if err != nil {
		return Result{Status: StatusFail, Message: "Reap failed", Detail: err.Error()}
	}

	return Result{
		Status:  StatusPass,
		Message: fmt.Sprintf("pid %d %s, %s", p.Pid(), p.ExitReason(), u),
	}
}

func checkNoZombies(ctx context.Context) Result {
	zombies, err := runner.ZombieChildren(ctx)
	if err != nil {
		return Result{Status: StatusWarn, Message: "Could not inspect children", Detail: err.Error()}
	}

	if len(zombies) > 0 {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("%d unreaped children", len(zombies)),
			Detail:  fmt.Sprintf("pids: %v", zombies),
		}
	}

	return Result{Status: StatusPass, Message: "No unreaped children"}
}

func programCheck(program string) Check {
	return func(_ context.Context) Result {
		path, err := exec.LookPath(program)
		if err != nil {
			return Result{
				Status:  StatusWarn,
				Message: fmt.Sprintf("%s not found", program),
				Detail:  "Set run.program or pass a command after --",
			}
		}

		return Result{Status: StatusPass, Message: path}
	}
}

func configCheck(cfg *config.Config) Check {
	return func(_ context.Context) Result {
		if file := cfg.ConfigFile(); file != "" {
			return Result{Status: StatusPass, Message: file}
		}

		return Result{Status: StatusPass, Message: "Defaults (no config file)"}
	}
}

func checkCLIVersion(_ context.Context) Result {
	if buildinfo.Version == "dev" {
		return Result{Status: StatusWarn, Message: "Development build"}
	}

	v, err := semver.NewVersion(buildinfo.Version)
	if err != nil {
		return Result{Status: StatusWarn, Message: buildinfo.Version, Detail: "Version is not semantic"}
	}

	cache, err := update.LoadCache()
	if err != nil || cache.CheckedAt.IsZero() {
		return Result{Status: StatusPass, Message: "v" + v.String()}
	}

	if cache.HasUpdate(v.String()) {
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("v%s (v%s available)", v, strings.TrimPrefix(cache.LatestVersion, "v")),
			Detail:  "Run 'cputally update' to update",
		}
	}

	return Result{Status: StatusPass, Message: fmt.Sprintf("v%s (latest)", v)}
}
