package backend

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/victorarias/c0lor-mem/internal/protocol"
)

// OutputFunc returns the sink for one of the worker's output streams
// ("stdout" or "stderr"). The supervisor closes it when the worker exits.
type OutputFunc func(stream string) io.WriteCloser

// RestartPolicy controls what happens after the worker exits on its own.
// The zero value never restarts.
type RestartPolicy struct {
	OnFailure   bool
	MaxRestarts int
}

type Config struct {
	WorkerPath   string
	WorkerArgs   []string
	WorkerEnv    map[string]string
	ResourcesDir string
	// UIOrigin is allowed to call the worker; "null" is always allowed too.
	UIOrigin  string
	Ports     PortRange
	Health    HealthPolicy
	StopGrace time.Duration
	Restart   RestartPolicy
	Output    OutputFunc
	// HTTPClient is used for readiness probes.
	HTTPClient *http.Client
	Logf       func(format string, args ...interface{})
}

// ExitInfo describes a worker that exited without being stopped.
type ExitInfo struct {
	PID      int
	ExitCode int
	State    string
}

// Supervisor owns the worker process: it allocates a port, mints a token,
// launches the worker, waits for it to be healthy and tears it down.
// Start and Stop are serialized internally.
type Supervisor struct {
	cfg Config

	mu       sync.Mutex
	proc     *Process
	restarts int

	// info is published whole, so readers see nil or a complete value.
	info     atomic.Pointer[protocol.BackendInfo]
	running  atomic.Bool
	pid      atomic.Int64
	lastExit atomic.Pointer[ExitInfo]

	cancelMu    sync.Mutex
	cancelStart context.CancelFunc

	hooksMu sync.RWMutex
	onReady func(protocol.BackendInfo)
	onExit  func(ExitInfo)
}

func NewSupervisor(cfg Config) *Supervisor {
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...interface{}) {}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	cfg.Health = cfg.Health.normalized()
	return &Supervisor{cfg: cfg}
}

// SetReadyHandler is called after every successful start, including restarts,
// before Start returns. It runs with the supervisor locked: it may read Info,
// PID, IsRunning and LastExit but must not call Start or Stop.
func (s *Supervisor) SetReadyHandler(handler func(protocol.BackendInfo)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onReady = handler
}

// SetExitHandler is called when the worker exits without Stop, before any
// restart. The same locking rule as SetReadyHandler applies.
func (s *Supervisor) SetExitHandler(handler func(ExitInfo)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onExit = handler
}

// Start launches the worker and blocks until it is healthy. Any failure
// leaves no worker process behind.
func (s *Supervisor) Start(ctx context.Context) (protocol.BackendInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil && s.proc.Running() {
		return protocol.BackendInfo{}, ErrAlreadyRunning
	}
	s.restarts = 0
	return s.startLocked(ctx)
}

func (s *Supervisor) startLocked(ctx context.Context) (protocol.BackendInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.setCancelStart(cancel)
	defer s.setCancelStart(nil)

	port, err := AllocatePort(s.cfg.Ports)
	if err != nil {
		return protocol.BackendInfo{}, err
	}
	token, err := randomToken(tokenBytes)
	if err != nil {
		return protocol.BackendInfo{}, fmt.Errorf("generate auth token: %w", err)
	}
	info := protocol.BackendInfo{
		BaseURL: "http://" + net.JoinHostPort(protocol.LoopbackHost, strconv.Itoa(port)),
		Token:   token,
	}

	proc, err := Launch(LaunchSpec{
		Path:   s.cfg.WorkerPath,
		Args:   s.workerArgs(port),
		Env:    s.workerEnv(port, token),
		Stdout: s.output("stdout"),
		Stderr: s.output("stderr"),
	})
	if err != nil {
		return protocol.BackendInfo{}, fmt.Errorf("%w: %w", ErrBackendLaunchFailed, err)
	}
	s.cfg.Logf("worker launched: pid=%d port=%d", proc.PID(), port)

	ready := false
	defer func() {
		if ready {
			return
		}
		if err := proc.Terminate(s.cfg.StopGrace); err != nil {
			s.cfg.Logf("worker cleanup failed: pid=%d err=%v", proc.PID(), err)
			return
		}
		s.cfg.Logf("worker cleanup: terminated unready worker pid=%d", proc.PID())
	}()

	// Stop probing as soon as the worker dies.
	probeCtx, cancelProbe := context.WithCancel(ctx)
	defer cancelProbe()
	go func() {
		select {
		case <-proc.Done():
			cancelProbe()
		case <-probeCtx.Done():
		}
	}()

	if !WaitForHealth(probeCtx, s.cfg.HTTPClient, info, s.cfg.Health) {
		if err := ctx.Err(); err != nil {
			return protocol.BackendInfo{}, fmt.Errorf("start backend: %w", err)
		}
		if !proc.Running() {
			return protocol.BackendInfo{}, fmt.Errorf("%w: worker exited (%s)", ErrBackendStartupTimeout, proc.ExitState())
		}
		return protocol.BackendInfo{}, fmt.Errorf("%w after %d attempts", ErrBackendStartupTimeout, s.cfg.Health.MaxRetries)
	}

	ready = true
	s.proc = proc
	s.pid.Store(int64(proc.PID()))
	s.info.Store(&info)
	s.running.Store(true)
	s.cfg.Logf("worker ready: pid=%d url=%s", proc.PID(), info.BaseURL)

	go s.observe(proc)

	s.hooksMu.RLock()
	onReady := s.onReady
	s.hooksMu.RUnlock()
	if onReady != nil {
		onReady(info)
	}
	return info, nil
}

// observe handles an exit that Stop did not ask for.
func (s *Supervisor) observe(proc *Process) {
	<-proc.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != proc {
		return
	}
	s.proc = nil
	s.pid.Store(0)
	s.info.Store(nil)
	s.running.Store(false)

	exit := ExitInfo{PID: proc.PID(), ExitCode: proc.ExitCode(), State: proc.ExitState()}
	s.lastExit.Store(&exit)
	s.cfg.Logf("worker exited unexpectedly: pid=%d state=%s", exit.PID, exit.State)

	s.hooksMu.RLock()
	onExit := s.onExit
	s.hooksMu.RUnlock()
	if onExit != nil {
		onExit(exit)
	}

	if !s.cfg.Restart.OnFailure || exit.ExitCode == 0 {
		return
	}
	if s.restarts >= s.cfg.Restart.MaxRestarts {
		s.cfg.Logf("worker restart limit reached (%d)", s.cfg.Restart.MaxRestarts)
		return
	}
	// The restart keeps s.mu for its whole probe, so a concurrent Start
	// waits for it; Stop cancels it through cancelStart. Read-only accessors
	// do not take the lock.
	s.restarts++
	s.cfg.Logf("restarting worker (%d/%d)", s.restarts, s.cfg.Restart.MaxRestarts)
	if _, err := s.startLocked(context.Background()); err != nil {
		s.cfg.Logf("worker restart failed: %v", err)
	}
}

// Stop terminates the worker if one is running. Safe to call at any time.
// An in-flight Start is aborted first.
func (s *Supervisor) Stop() error {
	s.cancelMu.Lock()
	if s.cancelStart != nil {
		s.cancelStart()
	}
	s.cancelMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	proc := s.proc
	s.proc = nil
	s.pid.Store(0)
	s.info.Store(nil)
	s.running.Store(false)
	if proc == nil {
		return nil
	}
	s.cfg.Logf("stopping worker pid=%d", proc.PID())
	return proc.Terminate(s.cfg.StopGrace)
}

// Info returns the current BackendInfo or ErrBackendNotReady.
func (s *Supervisor) Info() (protocol.BackendInfo, error) {
	info := s.info.Load()
	if info == nil {
		return protocol.BackendInfo{}, ErrBackendNotReady
	}
	return *info, nil
}

// LastExit returns the most recent unexpected exit, if any.
func (s *Supervisor) LastExit() (ExitInfo, bool) {
	exit := s.lastExit.Load()
	if exit == nil {
		return ExitInfo{}, false
	}
	return *exit, true
}

func (s *Supervisor) IsRunning() bool {
	return s.running.Load()
}

// PID returns the worker's pid, or 0 when none is running.
func (s *Supervisor) PID() int {
	return int(s.pid.Load())
}

func (s *Supervisor) setCancelStart(cancel context.CancelFunc) {
	s.cancelMu.Lock()
	s.cancelStart = cancel
	s.cancelMu.Unlock()
}

func (s *Supervisor) output(stream string) io.WriteCloser {
	if s.cfg.Output == nil {
		return nil
	}
	return s.cfg.Output(stream)
}

func (s *Supervisor) workerArgs(port int) []string {
	args := append([]string(nil), s.cfg.WorkerArgs...)
	return append(args,
		"--port", strconv.Itoa(port),
		"--host", protocol.LoopbackHost,
	)
}

func (s *Supervisor) workerEnv(port int, token string) []string {
	env := []string{
		protocol.EnvAuthToken + "=" + token,
		protocol.EnvAllowedOrigins + "=" + strings.Join(AllowedOrigins(s.cfg.UIOrigin), ","),
		protocol.EnvPort + "=" + strconv.Itoa(port),
	}
	if s.cfg.ResourcesDir != "" {
		env = append(env, protocol.EnvResourcesDir+"="+s.cfg.ResourcesDir)
	}
	keys := make([]string, 0, len(s.cfg.WorkerEnv))
	for k := range s.cfg.WorkerEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+s.cfg.WorkerEnv[k])
	}
	return env
}

// AllowedOrigins builds the worker's CORS allow-list from the UI origin.
func AllowedOrigins(uiOrigin string) []string {
	var origins []string
	for _, o := range strings.Split(uiOrigin, ",") {
		o = strings.TrimSpace(o)
		if o != "" && o != protocol.NullOrigin {
			origins = append(origins, o)
		}
	}
	return append(origins, protocol.NullOrigin)
}
