package main

import (
	"bytes"
	"testing"

	"github.com/musher-dev/cputally/internal/doctor"
	"github.com/musher-dev/cputally/internal/output"
	"github.com/musher-dev/cputally/internal/terminal"
	"github.com/musher-dev/cputally/internal/testutil"
)

func renderDoctorOutput(results []doctor.Result) string {
	var buf bytes.Buffer

	term := &terminal.Info{IsTTY: false, NoColor: true, Width: 80, Height: 24}
	renderDoctor(output.NewWriter(&buf, &buf, term), results)

	return buf.String()
}

func TestDoctorOutput_AllPass_Golden(t *testing.T) {
	results := []doctor.Result{
		{Name: "Kernel", Status: doctor.StatusPass, Message: "6.8.0-45-generic"},
		{Name: "pidfd_open", Status: doctor.StatusPass, Message: "PIDFD_NONBLOCK supported"},
		{Name: "waitid(P_PIDFD)", Status: doctor.StatusPass, Message: "Reaped child with rusage"},
		{Name: "Reaping", Status: doctor.StatusPass, Message: "No unreaped children"},
		{Name: "Program", Status: doctor.StatusPass, Message: "factor at /usr/bin/factor"},
		{Name: "Config", Status: doctor.StatusPass, Message: "Using defaults"},
		{Name: "CLI Version", Status: doctor.StatusPass, Message: "v0.3.0"},
	}

	got := renderDoctorOutput(results)
	testutil.AssertGolden(t, got, "doctor_all_pass.golden")
}

func TestDoctorOutput_Mixed_Golden(t *testing.T) {
	results := []doctor.Result{
		{Name: "Kernel", Status: doctor.StatusPass, Message: "6.8.0-45-generic"},
		{Name: "pidfd_open", Status: doctor.StatusPass, Message: "PIDFD_NONBLOCK supported"},
		{Name: "waitid(P_PIDFD)", Status: doctor.StatusPass, Message: "Reaped child with rusage"},
		{Name: "Reaping", Status: doctor.StatusWarn, Message: "1 unreaped child", Detail: "pid 4242 is a zombie"},
		{Name: "Program", Status: doctor.StatusWarn, Message: "factor not found in PATH", Detail: "Install coreutils or set run.program"},
		{Name: "Config", Status: doctor.StatusPass, Message: "Using defaults"},
		{Name: "CLI Version", Status: doctor.StatusWarn, Message: "Development build"},
	}

	got := renderDoctorOutput(results)
	testutil.AssertGolden(t, got, "doctor_mixed.golden")
}

func TestDoctorOutput_AllFail_Golden(t *testing.T) {
	results := []doctor.Result{
		{Name: "Kernel", Status: doctor.StatusFail, Message: "5.4.0-150-generic", Detail: "cputally needs Linux 5.10 or newer"},
		{Name: "pidfd_open", Status: doctor.StatusFail, Message: "Unavailable", Detail: "function not implemented"},
		{Name: "waitid(P_PIDFD)", Status: doctor.StatusFail, Message: "Skipped", Detail: "pidfd_open is unavailable"},
		{Name: "Reaping", Status: doctor.StatusPass, Message: "No unreaped children"},
		{Name: "Program", Status: doctor.StatusPass, Message: "factor at /usr/bin/factor"},
		{Name: "Config", Status: doctor.StatusPass, Message: "Using defaults"},
		{Name: "CLI Version", Status: doctor.StatusWarn, Message: "Development build"},
	}

	got := renderDoctorOutput(results)
	testutil.AssertGolden(t, got, "doctor_all_fail.golden")
}
