package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/victorarias/c0lor-mem/internal/config"
	"github.com/victorarias/c0lor-mem/internal/logging"
	"github.com/victorarias/c0lor-mem/internal/protocol"
	"github.com/victorarias/c0lor-mem/internal/stream"
	"github.com/victorarias/c0lor-mem/internal/workertest"
)

// When set, the test binary serves the fake worker instead of running tests.
const shellTestWorkerEnv = "C0LOR_MEM_SHELL_TEST_WORKER"

func TestMain(m *testing.M) {
	if os.Getenv(shellTestWorkerEnv) != "" {
		os.Exit(serveTestWorker(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func serveTestWorker(args []string) int {
	var host, port string
	for i := 0; i+1 < len(args); i++ {
		switch args[i] {
		case "--host":
			host = args[i+1]
		case "--port":
			port = args[i+1]
		}
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	w := workertest.New(os.Getenv(protocol.EnvAuthToken))
	if err := w.Serve(ctx, net.JoinHostPort(host, port)); err != nil {
		fmt.Fprintf(os.Stderr, "test worker: %v\n", err)
		return 1
	}
	return 0
}

func newTestShell(t *testing.T) *shell {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("executable: %v", err)
	}
	dir := t.TempDir()
	t.Setenv(shellTestWorkerEnv, "1")
	t.Setenv("C0LOR_MEM_CONFIG_PATH", filepath.Join(dir, "missing.json"))
	t.Setenv("C0LOR_MEM_WORKER_PATH", exe)
	t.Setenv("C0LOR_MEM_REGISTRY_PATH", filepath.Join(dir, "worker.json"))
	t.Setenv("C0LOR_MEM_HISTORY_PATH", filepath.Join(dir, "history.db"))
	t.Setenv("C0LOR_MEM_HEALTH_RETRIES", "250")
	t.Setenv("C0LOR_MEM_HEALTH_INTERVAL_MS", "20")
	config.Reload()

	logger = logging.Nop()
	s := newShell()
	t.Cleanup(s.shutdown)
	return s
}

func TestShell_RequestRightAfterStart(t *testing.T) {
	for i := 0; i < 5; i++ {
		t.Run(fmt.Sprintf("start-%d", i), func(t *testing.T) {
			s := newTestShell(t)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			info, err := s.sup.Start(ctx)
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			if got, ok := s.bridge.Current(); !ok || got != info {
				t.Fatalf("bridge not announced when Start returned: %v %v", got, ok)
			}
			resp, err := s.api.Health(ctx)
			if err != nil {
				t.Fatalf("Health right after Start: %v", err)
			}
			if resp.Status != "ok" {
				t.Errorf("health status = %q", resp.Status)
			}
		})
	}
}

func TestShell_RegistryHasNoToken(t *testing.T) {
	s := newTestShell(t)
	info, err := s.sup.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	data, err := os.ReadFile(config.RegistryPath())
	if err != nil {
		t.Fatalf("registry not written before Start returned: %v", err)
	}
	if strings.Contains(string(data), info.Token) || strings.Contains(string(data), "token") {
		t.Errorf("auth token persisted to disk:\n%s", data)
	}
	if !strings.Contains(string(data), info.BaseURL) {
		t.Errorf("registry missing base URL:\n%s", data)
	}
}

func TestShell_ShutdownLeavesNothingBehind(t *testing.T) {
	s := newTestShell(t)
	if _, err := s.sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	registryPath := config.RegistryPath()

	s.shutdown()

	if _, ok := s.bridge.Current(); ok {
		t.Error("bridge still announces a worker after shutdown")
	}
	if s.sup.IsRunning() {
		t.Error("worker still running after shutdown")
	}
	// Nothing may announce or rewrite the registry after shutdown.
	time.Sleep(200 * time.Millisecond)
	if _, err := os.Stat(registryPath); !os.IsNotExist(err) {
		t.Errorf("registry file present after shutdown: %v", err)
	}
	if st := s.stream.State(); st == stream.Connected || st == stream.Connecting {
		t.Errorf("stream state after shutdown = %s", st)
	}
}
