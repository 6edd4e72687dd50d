package backend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const (
	defaultStopGrace = 2 * time.Second
	killWaitTimeout  = 2 * time.Second
	// Bounds how long Wait keeps copying output after the worker exits,
	// in case a grandchild still holds the pipes open.
	outputWaitDelay = 2 * time.Second
)

// LaunchSpec describes one worker spawn.
type LaunchSpec struct {
	Path string
	Args []string
	// Env is appended to the parent's environment.
	Env    []string
	Stdout io.WriteCloser
	Stderr io.WriteCloser
}

// Process is the handle to a spawned worker. Its exit is observed by a
// dedicated goroutine; Done is closed once the process has been reaped.
type Process struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	state    string
	waitErr  error
}

// Launch starts the worker. On failure nothing is left running and the
// output writers are closed.
func Launch(spec LaunchSpec) (*Process, error) {
	if spec.Path == "" {
		closeAll(spec.Stdout, spec.Stderr)
		return nil, errors.New("missing worker executable path")
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	if spec.Stdout != nil {
		cmd.Stdout = spec.Stdout
	}
	if spec.Stderr != nil {
		cmd.Stderr = spec.Stderr
	}
	cmd.WaitDelay = outputWaitDelay

	if err := cmd.Start(); err != nil {
		closeAll(spec.Stdout, spec.Stderr)
		return nil, err
	}

	p := &Process{
		cmd:      cmd,
		pid:      cmd.Process.Pid,
		done:     make(chan struct{}),
		exitCode: -1,
	}
	go p.wait(spec.Stdout, spec.Stderr)
	return p, nil
}

func (p *Process) wait(stdout, stderr io.Closer) {
	err := p.cmd.Wait()
	closeAll(stdout, stderr)

	p.mu.Lock()
	p.waitErr = err
	if ps := p.cmd.ProcessState; ps != nil {
		p.exitCode = ps.ExitCode()
		p.state = ps.String()
	}
	p.mu.Unlock()
	close(p.done)
}

func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		if c != nil {
			_ = c.Close()
		}
	}
}

// PID returns the worker's process id.
func (p *Process) PID() int {
	return p.pid
}

// Done is closed when the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Running reports whether the process has not exited yet.
func (p *Process) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitCode is -1 while running or when the process was killed by a signal.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// ExitState describes how the process ended, e.g. "exit status 1".
func (p *Process) ExitState() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Terminate asks the worker to exit, then kills it and any descendants if
// it is still alive after grace. It returns once the process is reaped.
func (p *Process) Terminate(grace time.Duration) error {
	if !p.Running() {
		return nil
	}
	if grace <= 0 {
		grace = defaultStopGrace
	}

	// Snapshot the tree before the root goes away and children get reparented.
	tree := descendants(int32(p.pid))

	if root, err := process.NewProcess(int32(p.pid)); err == nil {
		_ = root.Terminate()
	} else {
		_ = p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
	case <-time.After(grace):
		for _, child := range tree {
			_ = child.Kill()
		}
		_ = p.cmd.Process.Kill()
		select {
		case <-p.done:
		case <-time.After(killWaitTimeout):
			return fmt.Errorf("worker pid %d still alive after kill", p.pid)
		}
	}

	for _, child := range tree {
		if alive, err := child.IsRunning(); err == nil && alive {
			_ = child.Kill()
		}
	}
	return nil
}

func descendants(pid int32) []*process.Process {
	root, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}
	var out []*process.Process
	queue := []*process.Process{root}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		children, err := next.Children()
		if err != nil {
			continue
		}
		out = append(out, children...)
		queue = append(queue, children...)
	}
	return out
}
