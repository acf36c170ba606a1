// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/hound-tools/updater/internal/hostproc"
	"github.com/hound-tools/updater/internal/testutil"
)

type (
	startCall struct {
		path string
		args []string
	}

	fakeProcs struct {
		mu         sync.Mutex
		terminated []string
		started    []startCall
		termErr    error
		startErr   error
	}
)

func (f *fakeProcs) Find(context.Context, string) ([]hostproc.Process, error) { return nil, nil }

func (f *fakeProcs) Terminate(_ context.Context, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, name)
	if f.termErr != nil {
		return 0, f.termErr
	}
	return 1, nil
}

func (f *fakeProcs) Start(_ context.Context, path string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, startCall{path: path, args: args})
	return f.startErr
}

type stageRecorder struct {
	mu     sync.Mutex
	stages []Stage
}

func (r *stageRecorder) record(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.stages); n == 0 || r.stages[n-1] != ev.Stage {
		r.stages = append(r.stages, ev.Stage)
	}
}

// updateFixture wires an Updater to a fake GitHub API, a fake process
// manager, and a temporary install directory holding an old host build.
type updateFixture struct {
	fake       *testutil.FakeGitHub
	procs      *fakeProcs
	installDir string
	stages     *stageRecorder
	updater    *Updater
}

func newUpdateFixture(t *testing.T, current string, opts ...UpdaterOption) *updateFixture {
	t.Helper()

	fx := &updateFixture{
		fake:       testutil.NewFakeGitHub(t, "Scobalula", "Greyhound"),
		procs:      &fakeProcs{},
		installDir: t.TempDir(),
		stages:     &stageRecorder{},
	}
	testutil.MustWriteFile(t, filepath.Join(fx.installDir, "Greyhound.exe"), []byte("old host"))
	testutil.MustWriteFile(t, filepath.Join(fx.installDir, "GreyhoundUpdater.exe"), []byte("running updater"))

	client := NewGitHubClient(WithBaseURL(fx.fake.URL()), WithRepo("Scobalula", "Greyhound"))
	opts = append([]UpdaterOption{
		WithGitHubClient(client),
		WithProcessManager(fx.procs),
		WithSelfName("GreyhoundUpdater.exe"),
		WithProgress(fx.stages.record),
	}, opts...)

	fx.updater = NewUpdater(Target{
		InstallDir:     fx.installDir,
		Executable:     "Greyhound.exe",
		CurrentVersion: current,
		Args:           []string{"--updated"},
	}, opts...)
	return fx
}

func releaseArchive(t *testing.T) []byte {
	t.Helper()
	return testutil.ZipBytes(t, map[string]string{
		"Greyhound.exe":                "new host",
		"GreyhoundUpdater.exe":         "new updater",
		"package_index/":               "",
		"package_index/bo4_xmodel.wni": "index",
		"settings/":                    "",
		"settings/Greyhound.cfg":       "ExportBrowser=true",
	})
}

func TestUpdater_Check_UpdateAvailable(t *testing.T) {
	t.Parallel()

	fx := newUpdateFixture(t, "1.3.0.4")
	fx.fake.AddRelease(testutil.FakeRelease{Tag: "1.3.0.5", Body: "Changes", Assets: []testutil.FakeAsset{
		{Name: "checksums.txt", Data: []byte("x")},
		{Name: "Greyhound.zip", Data: []byte("zip")},
	}})
	fx.fake.AddRelease(testutil.FakeRelease{Tag: "1.3.0.3"})

	check, err := fx.updater.Check(context.Background(), "")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if !check.UpdateAvailable {
		t.Fatalf("expected update, got %+v", check)
	}
	if check.Asset == nil || check.Asset.Name != "Greyhound.zip" {
		t.Errorf("asset = %+v, want Greyhound.zip", check.Asset)
	}
	if check.Release.Body != "Changes" || check.LatestVersion != "1.3.0.5" {
		t.Errorf("check = %+v", check)
	}
	if check.Message != "Update available: 1.3.0.4 -> 1.3.0.5" {
		t.Errorf("Message = %q", check.Message)
	}
}

func TestUpdater_Check_NoUpdate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current string
		message string
	}{
		{name: "equal", current: "v2.1.71", message: "Already up to date."},
		{name: "newer", current: "2.1.72.0", message: "Already up to date."},
		{name: "pre-release ahead", current: "v2.2.0-beta.1", message: "Running pre-release v2.2.0-beta.1 (ahead of 2.1.71)."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fx := newUpdateFixture(t, tt.current)
			fx.fake.AddRelease(testutil.FakeRelease{Tag: "2.1.71", Assets: []testutil.FakeAsset{{Name: "Greyhound.zip"}}})

			check, err := fx.updater.Check(context.Background(), "")
			if err != nil {
				t.Fatalf("Check() error: %v", err)
			}
			if check.UpdateAvailable || check.Asset != nil {
				t.Errorf("unexpected update: %+v", check)
			}
			if check.Message != tt.message {
				t.Errorf("Message = %q, want %q", check.Message, tt.message)
			}
		})
	}
}

func TestUpdater_Check_Errors(t *testing.T) {
	t.Parallel()

	t.Run("invalid current version", func(t *testing.T) {
		t.Parallel()
		fx := newUpdateFixture(t, "unknown")
		if _, err := fx.updater.Check(context.Background(), ""); !errors.Is(err, ErrInvalidVersion) {
			t.Errorf("Check() error = %v, want ErrInvalidVersion", err)
		}
		if fx.fake.Requests() != 0 {
			t.Error("API should not be queried with an invalid current version")
		}
	})

	t.Run("no stable releases", func(t *testing.T) {
		t.Parallel()
		fx := newUpdateFixture(t, "1.0.0")
		fx.fake.AddRelease(testutil.FakeRelease{Tag: "v2.0.0-rc.1", Prerelease: true})
		if _, err := fx.updater.Check(context.Background(), ""); !errors.Is(err, ErrReleaseNotFound) {
			t.Errorf("Check() error = %v, want ErrReleaseNotFound", err)
		}
	})

	t.Run("release without assets", func(t *testing.T) {
		t.Parallel()
		fx := newUpdateFixture(t, "1.0.0")
		fx.fake.AddRelease(testutil.FakeRelease{Tag: "v2.0.0", Assets: []testutil.FakeAsset{{Name: "checksums.txt"}}})
		if _, err := fx.updater.Check(context.Background(), ""); !errors.Is(err, ErrNoAssets) {
			t.Errorf("Check() error = %v, want ErrNoAssets", err)
		}
	})

	t.Run("unknown target version", func(t *testing.T) {
		t.Parallel()
		fx := newUpdateFixture(t, "1.0.0")
		if _, err := fx.updater.Check(context.Background(), "v9.0.0"); !errors.Is(err, ErrReleaseNotFound) {
			t.Errorf("Check() error = %v, want ErrReleaseNotFound", err)
		}
	})
}

func TestUpdater_Check_TargetVersionAndPattern(t *testing.T) {
	t.Parallel()

	fx := newUpdateFixture(t, "1.0.0", WithAssetPattern("*-X64.ZIP"))
	fx.fake.AddRelease(testutil.FakeRelease{Tag: "v3.0.0"})
	fx.fake.AddRelease(testutil.FakeRelease{Tag: "v2.0.0", Assets: []testutil.FakeAsset{
		{Name: "Greyhound-x86.zip"},
		{Name: "Greyhound-x64.zip"},
	}})

	check, err := fx.updater.Check(context.Background(), "v2.0.0")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if check.LatestVersion != "v2.0.0" || check.Asset.Name != "Greyhound-x64.zip" {
		t.Errorf("check = %+v (asset %+v)", check, check.Asset)
	}
}

func TestUpdater_Apply_Success(t *testing.T) {
	t.Parallel()

	fx := newUpdateFixture(t, "1.3.0.4")
	zipData := releaseArchive(t)
	fx.fake.AddRelease(testutil.FakeRelease{Tag: "1.3.0.5", Assets: []testutil.FakeAsset{
		{Name: "Greyhound.zip", Data: zipData},
		{Name: "checksums.txt", Data: []byte(testutil.SHA256Hex(zipData) + "  Greyhound.zip\n")},
	}})

	check, err := fx.updater.Check(context.Background(), "")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	res, err := fx.updater.Apply(context.Background(), check)
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	if got := string(testutil.MustReadFile(t, filepath.Join(fx.installDir, "Greyhound.exe"))); got != "new host" {
		t.Errorf("host = %q, want new host", got)
	}
	if got := string(testutil.MustReadFile(t, filepath.Join(fx.installDir, "GreyhoundUpdater.exe"))); got != "running updater" {
		t.Errorf("updater was overwritten: %q", got)
	}
	if got := string(testutil.MustReadFile(t, filepath.Join(fx.installDir, "settings", "Greyhound.cfg"))); got != "ExportBrowser=true" {
		t.Errorf("settings = %q", got)
	}
	if _, err := os.Stat(filepath.Join(fx.installDir, DefaultArchiveName)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("downloaded archive not removed: %v", err)
	}

	if res.Terminated != 1 || res.Bytes != int64(len(zipData)) || len(res.Files) != 3 {
		t.Errorf("result = %+v", res)
	}
	if !slices.Equal(res.Skipped, []string{"GreyhoundUpdater.exe"}) {
		t.Errorf("Skipped = %v", res.Skipped)
	}

	if !slices.Equal(fx.procs.terminated, []string{"Greyhound"}) {
		t.Errorf("terminated = %v", fx.procs.terminated)
	}
	wantStart := startCall{path: filepath.Join(fx.installDir, "Greyhound.exe"), args: []string{"--updated"}}
	if len(fx.procs.started) != 1 || fx.procs.started[0].path != wantStart.path ||
		!slices.Equal(fx.procs.started[0].args, wantStart.args) {
		t.Errorf("started = %+v, want %+v", fx.procs.started, wantStart)
	}

	wantStages := []Stage{
		StageChecking, StageTerminating, StageDownloading, StageVerifying,
		StageExtracting, StageRelaunching, StageCleanup,
	}
	if !slices.Equal(fx.stages.stages, wantStages) {
		t.Errorf("stages = %v, want %v", fx.stages.stages, wantStages)
	}
}

func TestUpdater_Apply_WithoutChecksums(t *testing.T) {
	t.Parallel()

	fx := newUpdateFixture(t, "1.0.0")
	fx.fake.AddRelease(testutil.FakeRelease{Tag: "v1.1.0", Assets: []testutil.FakeAsset{
		{Name: "Greyhound.zip", Data: releaseArchive(t)},
	}})

	check, err := fx.updater.Check(context.Background(), "")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if _, err := fx.updater.Apply(context.Background(), check); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if got := string(testutil.MustReadFile(t, filepath.Join(fx.installDir, "Greyhound.exe"))); got != "new host" {
		t.Errorf("host = %q", got)
	}
}

func TestUpdater_Apply_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	fx := newUpdateFixture(t, "1.0.0")
	fx.fake.AddRelease(testutil.FakeRelease{Tag: "v1.1.0", Assets: []testutil.FakeAsset{
		{Name: "Greyhound.zip", Data: releaseArchive(t)},
		{Name: "checksums.txt", Data: []byte(hashB + "  Greyhound.zip\n")},
	}})

	check, err := fx.updater.Check(context.Background(), "")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	_, err = fx.updater.Apply(context.Background(), check)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Apply() error = %v, want ErrChecksumMismatch", err)
	}

	if got := string(testutil.MustReadFile(t, filepath.Join(fx.installDir, "Greyhound.exe"))); got != "old host" {
		t.Errorf("host replaced despite bad checksum: %q", got)
	}
	if _, err := os.Stat(filepath.Join(fx.installDir, DefaultArchiveName)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("rejected archive left behind: %v", err)
	}
	wantHost := filepath.Join(fx.installDir, "Greyhound.exe")
	if len(fx.procs.started) != 1 || fx.procs.started[0].path != wantHost {
		t.Errorf("started = %+v, want one restart of the old host", fx.procs.started)
	}
}

func TestUpdater_Apply_DownloadFailureRestartsHost(t *testing.T) {
	t.Parallel()

	fx := newUpdateFixture(t, "1.0.0")
	fx.fake.AddRelease(testutil.FakeRelease{Tag: "v1.1.0", Assets: []testutil.FakeAsset{
		{Name: "Greyhound.zip", Data: releaseArchive(t)},
	}})

	check, err := fx.updater.Check(context.Background(), "")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	check.Asset.BrowserDownloadURL = fx.fake.AssetURL("v1.1.0", "Missing.zip")

	res, err := fx.updater.Apply(context.Background(), check)
	if err == nil || errors.Is(err, ErrRelaunch) {
		t.Fatalf("Apply() error = %v, want the download failure alone", err)
	}
	if res == nil || res.Terminated != 1 {
		t.Errorf("result = %+v, want one terminated process", res)
	}
	if len(fx.procs.started) != 1 || fx.procs.started[0].path != filepath.Join(fx.installDir, "Greyhound.exe") {
		t.Errorf("started = %+v, want one restart of the old host", fx.procs.started)
	}
	if got := string(testutil.MustReadFile(t, filepath.Join(fx.installDir, "Greyhound.exe"))); got != "old host" {
		t.Errorf("host = %q, want old host", got)
	}
}

func TestUpdater_Apply_FailedRestartIsJoined(t *testing.T) {
	t.Parallel()

	fx := newUpdateFixture(t, "1.0.0")
	fx.procs.startErr = errors.New("exec format error")
	fx.fake.AddRelease(testutil.FakeRelease{Tag: "v1.1.0", Assets: []testutil.FakeAsset{
		{Name: "Greyhound.zip", Data: releaseArchive(t)},
		{Name: "checksums.txt", Data: []byte(hashB + "  Greyhound.zip\n")},
	}})

	check, err := fx.updater.Check(context.Background(), "")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	_, err = fx.updater.Apply(context.Background(), check)
	if !errors.Is(err, ErrChecksumMismatch) || !errors.Is(err, ErrRelaunch) {
		t.Fatalf("Apply() error = %v, want checksum mismatch joined with relaunch failure", err)
	}
	if len(fx.procs.started) != 1 {
		t.Errorf("started %d times, want 1", len(fx.procs.started))
	}
}

func TestUpdater_Apply_TerminateFailure(t *testing.T) {
	t.Parallel()

	fx := newUpdateFixture(t, "1.0.0")
	fx.procs.termErr = errors.New("access denied")
	fx.fake.AddRelease(testutil.FakeRelease{Tag: "v1.1.0", Assets: []testutil.FakeAsset{
		{Name: "Greyhound.zip", Data: releaseArchive(t)},
	}})

	check, err := fx.updater.Check(context.Background(), "")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if _, err := fx.updater.Apply(context.Background(), check); !errors.Is(err, ErrHostRunning) || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("Apply() error = %v, want access denied", err)
	}
	if n := fx.fake.Downloads("v1.1.0", "Greyhound.zip"); n != 0 {
		t.Errorf("asset downloaded %d times before host was stopped", n)
	}
}

func TestUpdater_Apply_RelaunchFailure(t *testing.T) {
	t.Parallel()

	fx := newUpdateFixture(t, "1.0.0")
	fx.procs.startErr = errors.New("exec format error")
	fx.fake.AddRelease(testutil.FakeRelease{Tag: "v1.1.0", Assets: []testutil.FakeAsset{
		{Name: "Greyhound.zip", Data: releaseArchive(t)},
	}})

	check, err := fx.updater.Check(context.Background(), "")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	_, err = fx.updater.Apply(context.Background(), check)
	if !errors.Is(err, ErrRelaunch) {
		t.Fatalf("Apply() error = %v, want relaunch failure", err)
	}
	if got := string(testutil.MustReadFile(t, filepath.Join(fx.installDir, "Greyhound.exe"))); got != "new host" {
		t.Errorf("files should stay extracted: %q", got)
	}
	if _, err := os.Stat(filepath.Join(fx.installDir, DefaultArchiveName)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("archive left behind: %v", err)
	}
	if len(fx.procs.started) != 1 {
		t.Errorf("started %d times, want a single relaunch attempt", len(fx.procs.started))
	}
}

func TestUpdater_Apply_Rejects(t *testing.T) {
	t.Parallel()

	fx := newUpdateFixture(t, "1.0.0")
	for _, check := range []*UpdateCheck{nil, {}, {UpdateAvailable: true}} {
		if _, err := fx.updater.Apply(context.Background(), check); !errors.Is(err, ErrNoUpdate) {
			t.Errorf("Apply(%+v) error = %v, want ErrNoUpdate", check, err)
		}
	}

	u := NewUpdater(Target{Executable: "Greyhound.exe"}, WithProcessManager(&fakeProcs{}))
	check := &UpdateCheck{UpdateAvailable: true, Asset: &Asset{Name: "Greyhound.zip"}}
	if _, err := u.Apply(context.Background(), check); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("Apply() without install dir error = %v, want ErrInvalidTarget", err)
	}
}

func TestUpdater_OpenInBrowser(t *testing.T) {
	t.Parallel()

	fx := newUpdateFixture(t, "1.0.0")
	fx.fake.AddRelease(testutil.FakeRelease{Tag: "v1.1.0", Assets: []testutil.FakeAsset{{Name: "Greyhound.zip"}}})

	check, err := fx.updater.Check(context.Background(), "")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	got, err := fx.updater.OpenInBrowser(check)
	if err != nil {
		t.Fatalf("OpenInBrowser() error: %v", err)
	}
	if got != fx.fake.AssetURL("v1.1.0", "Greyhound.zip") {
		t.Errorf("OpenInBrowser() = %q", got)
	}
	if fx.fake.Downloads("v1.1.0", "Greyhound.zip") != 0 {
		t.Error("browser mode must not download the asset")
	}
	if _, err := fx.updater.OpenInBrowser(nil); !errors.Is(err, ErrNoUpdate) {
		t.Errorf("OpenInBrowser(nil) error = %v", err)
	}
}

func TestNewUpdater_Defaults(t *testing.T) {
	orig := osExecutable
	t.Cleanup(func() { osExecutable = orig })
	osExecutable = func() (string, error) { return "/opt/greyhound/GreyhoundUpdater", nil }

	u := NewUpdater(Target{Executable: "Greyhound.exe"})
	if u.Target().ProcessName != "Greyhound" {
		t.Errorf("ProcessName = %q", u.Target().ProcessName)
	}
	if u.selfName != "GreyhoundUpdater" || u.archiveName != DefaultArchiveName {
		t.Errorf("selfName = %q, archiveName = %q", u.selfName, u.archiveName)
	}
	if u.client == nil || u.procs == nil {
		t.Error("default collaborators not set")
	}
}

func TestStage_String(t *testing.T) {
	t.Parallel()

	if StageDownloading.String() != "downloading" || Stage(42).String() != "stage(42)" {
		t.Errorf("unexpected stage names: %s %s", StageDownloading, Stage(42))
	}
}
