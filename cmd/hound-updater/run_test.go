// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hound-tools/updater/internal/selfupdate"
	"github.com/hound-tools/updater/internal/testutil"
)

func publishRelease(t *testing.T, env *testEnv, tag string) {
	t.Helper()
	env.fake.AddRelease(testutil.FakeRelease{
		Tag:  tag,
		Body: "Fixed export of animated models",
		Assets: []testutil.FakeAsset{{
			Name: "Greyhound.zip",
			Data: testutil.ZipBytes(t, map[string]string{
				"Greyhound.exe":     "new host",
				"hound-updater.exe": "new updater",
			}),
		}},
	})
}

func seedInstall(t *testing.T, env *testEnv) {
	t.Helper()
	testutil.MustWriteFile(t, filepath.Join(env.installDir, "Greyhound.exe"), []byte("old host"))
	testutil.MustWriteFile(t, filepath.Join(env.installDir, "hound-updater.exe"), []byte("running updater"))
}

func TestRun_InstallsUpdate(t *testing.T) {
	env := newTestEnv(t, "Scobalula", "Greyhound")
	seedInstall(t, env)
	publishRelease(t, env, "1.1.0")

	if err := env.execute("run"); err != nil {
		t.Fatalf("run: %v\n%s", err, env.out.String())
	}

	if got := string(testutil.MustReadFile(t, filepath.Join(env.installDir, "Greyhound.exe"))); got != "new host" {
		t.Errorf("Greyhound.exe = %q, want new host", got)
	}
	if got := string(testutil.MustReadFile(t, filepath.Join(env.installDir, "hound-updater.exe"))); got != "running updater" {
		t.Errorf("updater was overwritten: %q", got)
	}
	if len(env.prompts) != 1 || !strings.Contains(env.prompts[0], "from 1.0.0 to 1.1.0") {
		t.Errorf("prompts = %v", env.prompts)
	}
	if len(env.procs.terminated) != 1 || env.procs.terminated[0] != "Greyhound" {
		t.Errorf("terminated = %v, want [Greyhound]", env.procs.terminated)
	}
	if want := filepath.Join(env.installDir, "Greyhound.exe"); len(env.procs.started) != 1 || env.procs.started[0] != want {
		t.Errorf("started = %v, want [%s]", env.procs.started, want)
	}
	if len(env.slept) != 1 || env.slept[0] != time.Second {
		t.Errorf("slept = %v, want [1s]", env.slept)
	}

	out := env.out.String()
	for _, want := range []string{"Fixed export of animated models", "downloading", "Updated Greyhound to 1.1.0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_PositionalArgumentsOverrideConfig(t *testing.T) {
	env := newTestEnv(t, "Scobalula", "Greyhound")
	seedInstall(t, env)
	publishRelease(t, env, "1.1.0")
	env.cfg.Release.Owner = "someone-else"
	env.cfg.Host.Name = "Configured"

	if err := env.execute("run", "Scobalula", "Greyhound", "Greyhound", "Greyhound.exe", "true", "--yes"); err != nil {
		t.Fatalf("run: %v\n%s", err, env.out.String())
	}
	if len(env.prompts) != 0 {
		t.Errorf("--yes should skip the prompt, got %v", env.prompts)
	}
	if !strings.Contains(env.out.String(), "Updated Greyhound to 1.1.0") {
		t.Errorf("output:\n%s", env.out.String())
	}
}

func TestRun_BrowserMode(t *testing.T) {
	env := newTestEnv(t, "Scobalula", "Greyhound")
	publishRelease(t, env, "1.1.0")

	if err := env.execute("run", "Scobalula", "Greyhound", "Greyhound", "Greyhound.exe", "false"); err != nil {
		t.Fatalf("run: %v\n%s", err, env.out.String())
	}

	want := env.fake.AssetURL("1.1.0", "Greyhound.zip")
	if len(env.opened) != 1 || env.opened[0] != want {
		t.Errorf("opened = %v, want [%s]", env.opened, want)
	}
	if len(env.procs.terminated) != 0 || env.fake.Downloads("1.1.0", "Greyhound.zip") != 0 {
		t.Error("browser mode must not install anything")
	}
}

func TestRun_Declined(t *testing.T) {
	env := newTestEnv(t, "Scobalula", "Greyhound")
	seedInstall(t, env)
	publishRelease(t, env, "1.1.0")
	env.confirmed = false

	if err := env.execute("run"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(env.procs.terminated) != 0 {
		t.Errorf("declined update terminated %v", env.procs.terminated)
	}
	if !strings.Contains(env.out.String(), "Update canceled.") {
		t.Errorf("output:\n%s", env.out.String())
	}
}

func TestRun_AlreadyUpToDate(t *testing.T) {
	env := newTestEnv(t, "Scobalula", "Greyhound")
	publishRelease(t, env, "1.0.0")

	if err := env.execute("run"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(env.out.String(), "Already up to date.") {
		t.Errorf("output:\n%s", env.out.String())
	}
	if len(env.prompts) != 0 || len(env.slept) != 0 {
		t.Error("nothing should happen when up to date")
	}
}

func TestRun_UnknownVersion(t *testing.T) {
	env := newTestEnv(t, "Scobalula", "Greyhound")
	env.cfg.Host.CurrentVersion = ""

	err := env.execute("run")
	if code := exitCode(t, err); code != exitUserError {
		t.Errorf("exit code = %d, want %d", code, exitUserError)
	}
	if !errors.Is(err, errUnknownVersion) {
		t.Errorf("error = %v, want errUnknownVersion", err)
	}
	if env.fake.Requests() != 0 {
		t.Error("no API request should be made without a current version")
	}
}

func TestRun_CurrentVersionFlag(t *testing.T) {
	env := newTestEnv(t, "Scobalula", "Greyhound")
	env.cfg.Host.CurrentVersion = ""
	publishRelease(t, env, "1.1.0")

	if err := env.execute("check", "--current-version", "1.1.0"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(env.out.String(), "Already up to date.") {
		t.Errorf("output:\n%s", env.out.String())
	}
}

func TestRun_HostStillRunning(t *testing.T) {
	env := newTestEnv(t, "Scobalula", "Greyhound")
	seedInstall(t, env)
	publishRelease(t, env, "1.1.0")
	env.procs.termErr = errors.New("access denied")

	err := env.execute("run", "--yes")
	if code := exitCode(t, err); code != exitUserError {
		t.Errorf("exit code = %d, want %d", code, exitUserError)
	}
	if !errors.Is(err, selfupdate.ErrHostRunning) {
		t.Errorf("error = %v, want ErrHostRunning", err)
	}
	if got := string(testutil.MustReadFile(t, filepath.Join(env.installDir, "Greyhound.exe"))); got != "old host" {
		t.Errorf("install dir was modified: %q", got)
	}
}

func TestRun_TargetNotFound(t *testing.T) {
	env := newTestEnv(t, "Scobalula", "Greyhound")
	publishRelease(t, env, "1.1.0")

	err := env.execute("run", "--target", "9.9.9", "--yes")
	if code := exitCode(t, err); code != exitUserError {
		t.Errorf("exit code = %d, want %d", code, exitUserError)
	}
	if !errors.Is(err, selfupdate.ErrReleaseNotFound) {
		t.Errorf("error = %v, want ErrReleaseNotFound", err)
	}
}

func TestCheck_ReportsAvailability(t *testing.T) {
	env := newTestEnv(t, "Scobalula", "Greyhound")
	publishRelease(t, env, "1.1.0")

	if err := env.execute("check"); err != nil {
		t.Fatalf("check: %v", err)
	}

	out := env.out.String()
	if !strings.Contains(out, "An update is available: 1.0.0 → 1.1.0") {
		t.Errorf("output:\n%s", out)
	}
	if env.fake.Downloads("1.1.0", "Greyhound.zip") != 0 || len(env.procs.terminated) != 0 {
		t.Error("check must not download or terminate anything")
	}
}

func TestApplyUpdateOverrides_Invalid(t *testing.T) {
	env := newTestEnv(t, "Scobalula", "Greyhound")

	err := applyUpdateOverrides(env.cfg, []string{"bad/owner"}, updateFlags{})
	if err == nil {
		t.Fatal("expected an invalid owner to be rejected")
	}
	if classifyExitCode(err) != exitUserError {
		t.Errorf("classifyExitCode() = %d, want %d", classifyExitCode(err), exitUserError)
	}
}

func TestProgressPrinter(t *testing.T) {
	var sb strings.Builder
	p := newProgressPrinter(&sb)

	p.Handle(selfupdate.ProgressEvent{Stage: selfupdate.StageDownloading, Total: 200})
	for _, n := range []int64{10, 20, 25, 100, 200} {
		p.Handle(selfupdate.ProgressEvent{Stage: selfupdate.StageDownloading, Current: n, Total: 200})
	}
	p.Handle(selfupdate.ProgressEvent{Stage: selfupdate.StageExtracting, Total: -1})

	out := sb.String()
	if strings.Count(out, "Downloading update...") != 1 {
		t.Errorf("stage header should print once:\n%s", out)
	}
	for _, want := range []string{"  0%", " 10%", " 50%", "100%", "Installing files..."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, " 10%") != 1 {
		t.Errorf("10%% should print once:\n%s", out)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{5 << 20, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestCheck_SendsConfiguredToken(t *testing.T) {
	env := newTestEnv(t, "Scobalula", "Greyhound")
	publishRelease(t, env, "1.0.0")
	env.cfg.Release.TokenEnv = "HOUND_UPDATER_TEST_TOKEN"
	t.Cleanup(testutil.MustSetenv(t, "HOUND_UPDATER_TEST_TOKEN", "ghp_cli")) //nolint:gosec // fake token

	if err := env.execute("check"); err != nil {
		t.Fatalf("check: %v", err)
	}
	headers := env.fake.AuthHeaders()
	if len(headers) == 0 || headers[0] != "Bearer ghp_cli" {
		t.Errorf("Authorization headers = %v, want Bearer ghp_cli", headers)
	}
}
