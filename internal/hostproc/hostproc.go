// SPDX-License-Identifier: MPL-2.0

package hostproc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	defaultWaitTimeout  = 5 * time.Second
	defaultPollInterval = 100 * time.Millisecond
)

var (
	// ErrEmptyName is returned when a process name or executable path is blank.
	ErrEmptyName = errors.New("process name must not be empty")

	//nolint:gochecknoglobals // Test seam for process enumeration.
	listProcesses = systemProcesses

	//nolint:gochecknoglobals // Test seam for os.Getpid().
	selfPID = os.Getpid
)

type (
	// Process is a running process whose name matched a lookup.
	Process struct {
		PID  int32
		Name string
	}

	// Manager controls the lifecycle of the host application.
	Manager interface {
		// Find returns every running process whose name matches name.
		Find(ctx context.Context, name string) ([]Process, error)
		// Terminate kills every process matching name and returns how many
		// were signalled.
		Terminate(ctx context.Context, name string) (int, error)
		// Start launches the executable at path without waiting for it.
		Start(ctx context.Context, path string, args ...string) error
	}

	// System is the Manager backed by the operating system process table.
	System struct {
		waitTimeout  time.Duration
		pollInterval time.Duration
	}

	// Option configures a System.
	Option func(*System)

	// handle is the subset of a gopsutil process the manager needs.
	handle interface {
		pid() int32
		name(ctx context.Context) (string, error)
		kill(ctx context.Context) error
		running(ctx context.Context) (bool, error)
	}

	psHandle struct {
		p *process.Process
	}
)

// WithWaitTimeout bounds how long Terminate waits for killed processes to
// disappear. Zero disables waiting.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *System) {
		s.waitTimeout = max(d, 0)
	}
}

// NewSystem creates a Manager for the local machine.
func NewSystem(opts ...Option) *System {
	s := &System{
		waitTimeout:  defaultWaitTimeout,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessName derives the process name from an executable or assembly file
// name by keeping everything before the first dot, so "Greyhound.exe" and
// "Greyhound.Core.dll" both yield "Greyhound".
func ProcessName(exe string) string {
	base := filepath.Base(strings.ReplaceAll(exe, `\`, "/"))
	if base == "." || base == "/" {
		return ""
	}
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return strings.TrimSpace(base)
}

// Find returns every process other than the current one whose name matches
// name. Matching ignores case and a trailing ".exe".
func (s *System) Find(ctx context.Context, name string) ([]Process, error) {
	handles, err := s.match(ctx, name)
	if err != nil {
		return nil, err
	}

	found := make([]Process, 0, len(handles))
	for _, h := range handles {
		n, _ := h.name(ctx)
		found = append(found, Process{PID: h.pid(), Name: n})
	}
	return found, nil
}

// Terminate kills every matching process and waits up to the configured
// timeout for them to exit. Processes that vanish before they can be killed
// are not an error.
func (s *System) Terminate(ctx context.Context, name string) (int, error) {
	handles, err := s.match(ctx, name)
	if err != nil {
		return 0, err
	}

	var errs []error
	killed := make([]handle, 0, len(handles))
	for _, h := range handles {
		if err := h.kill(ctx); err != nil {
			if errors.Is(err, process.ErrorProcessNotRunning) {
				continue
			}
			errs = append(errs, fmt.Errorf("killing pid %d: %w", h.pid(), err))
			continue
		}
		slog.Info("terminated host process", "name", name, "pid", h.pid())
		killed = append(killed, h)
	}

	if err := s.waitExit(ctx, killed); err != nil {
		errs = append(errs, err)
	}

	return len(killed), errors.Join(errs...)
}

// Start launches path with args in its own directory and releases the child
// so it outlives the updater.
func (s *System) Start(_ context.Context, path string, args ...string) error {
	if strings.TrimSpace(path) == "" {
		return ErrEmptyName
	}

	//nolint:gosec // path is the configured host executable
	cmd := exec.Command(path, args...)
	cmd.Dir = filepath.Dir(path)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", path, err)
	}

	slog.Info("started host process", "path", path, "pid", cmd.Process.Pid)
	return cmd.Process.Release()
}

func (s *System) match(ctx context.Context, name string) ([]handle, error) {
	want := normalize(name)
	if want == "" {
		return nil, ErrEmptyName
	}

	all, err := listProcesses(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	self := int32(selfPID()) //nolint:gosec // pids fit in int32 on every supported platform
	var matched []handle
	for _, h := range all {
		if h.pid() == self {
			continue
		}
		// Processes can exit between enumeration and inspection.
		n, err := h.name(ctx)
		if err != nil {
			continue
		}
		if normalize(n) == want {
			matched = append(matched, h)
		}
	}
	return matched, nil
}

func (s *System) waitExit(ctx context.Context, handles []handle) error {
	if len(handles) == 0 || s.waitTimeout == 0 {
		return nil
	}

	deadline := time.Now().Add(s.waitTimeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	pending := handles
	for {
		pending = stillRunning(ctx, pending)
		if len(pending) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%d process(es) still running after %s", len(pending), s.waitTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func stillRunning(ctx context.Context, handles []handle) []handle {
	var out []handle
	for _, h := range handles {
		if ok, err := h.running(ctx); err == nil && ok {
			out = append(out, h)
		}
	}
	return out
}

// normalize lowercases name and strips a trailing ".exe".
func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, ".exe")
}

func systemProcesses(ctx context.Context) ([]handle, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]handle, len(procs))
	for i, p := range procs {
		out[i] = psHandle{p: p}
	}
	return out, nil
}

func (h psHandle) pid() int32 { return h.p.Pid }

func (h psHandle) name(ctx context.Context) (string, error) { return h.p.NameWithContext(ctx) }

func (h psHandle) kill(ctx context.Context) error { return h.p.KillWithContext(ctx) }

func (h psHandle) running(ctx context.Context) (bool, error) { return h.p.IsRunningWithContext(ctx) }
