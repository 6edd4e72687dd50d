package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/victorarias/c0lor-mem/internal/protocol"
	"github.com/victorarias/c0lor-mem/internal/registry"
	"github.com/victorarias/c0lor-mem/internal/store"
)

func TestBatchRequestFromFlags(t *testing.T) {
	if err := batchCmd.Flags().Parse([]string{"--apl-start", "10", "--apl-end", "50", "--apl-step", "10", "--shape", "circle", "-o", "/tmp/out"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	req := batchRequestFromFlags(batchCmd)

	if req.Width != 3840 || req.Height != 2160 {
		t.Errorf("size = %dx%d, want defaults", req.Width, req.Height)
	}
	if req.Shape != protocol.ShapeCircle || req.OutputDirectory != "/tmp/out" {
		t.Errorf("shape=%q output=%q", req.Shape, req.OutputDirectory)
	}
	if got := req.Steps(); got != 5 {
		t.Errorf("steps = %d, want 5", got)
	}
}

func TestBatchFinished(t *testing.T) {
	if err := batchFinished("b1", protocol.BatchCompleted); err != nil {
		t.Errorf("completed batch returned %v", err)
	}
	if err := batchFinished("b1", protocol.BatchCancelled); err != nil {
		t.Errorf("cancelled batch returned %v", err)
	}
	if err := batchFinished("b1", protocol.BatchFailed); err == nil {
		t.Error("failed batch should return an error")
	}
}

func TestConfigCommandPrintsYAML(t *testing.T) {
	t.Setenv("C0LOR_MEM_PORT_MIN", "19000")

	var out bytes.Buffer
	configCmd.SetOut(&out)
	if err := configCmd.RunE(configCmd, nil); err != nil {
		t.Fatalf("config command: %v", err)
	}
	if !strings.Contains(out.String(), "port_min: 19000") {
		t.Errorf("output missing port_min:\n%s", out.String())
	}
}

func TestHealthCommandWithoutWorker(t *testing.T) {
	t.Setenv("C0LOR_MEM_REGISTRY_PATH", filepath.Join(t.TempDir(), "worker.json"))
	t.Setenv(protocol.EnvAuthToken, "tok")
	flagHealthURL, flagHealthToken = "", ""
	if err := healthCmd.RunE(healthCmd, nil); err == nil {
		t.Error("expected error with no --url and no registry")
	}
}

func TestHealthTargetNeedsToken(t *testing.T) {
	t.Setenv(protocol.EnvAuthToken, "")
	flagHealthURL, flagHealthToken = "http://127.0.0.1:18100", ""
	defer func() { flagHealthURL = "" }()
	if _, err := healthTarget(); err == nil || !strings.Contains(err.Error(), "auth token") {
		t.Errorf("healthTarget error = %v, want missing token", err)
	}
}

func TestHealthTargetFromRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.json")
	t.Setenv("C0LOR_MEM_REGISTRY_PATH", path)
	info := protocol.BackendInfo{BaseURL: "http://127.0.0.1:18123", Token: "tok"}
	if err := registry.WriteAtomic(path, registry.NewEntry(42, info.BaseURL)); err != nil {
		t.Fatal(err)
	}

	t.Setenv(protocol.EnvAuthToken, "")
	flagHealthURL, flagHealthToken = "", "tok"
	defer func() { flagHealthToken = "" }()
	got, err := healthTarget()
	if err != nil {
		t.Fatalf("healthTarget: %v", err)
	}
	if got != info {
		t.Errorf("got %v, want %v", got, info)
	}
}

func TestHistoryCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	t.Setenv("C0LOR_MEM_HISTORY_PATH", path)

	var out bytes.Buffer
	historyCmd.SetOut(&out)
	if err := historyCmd.RunE(historyCmd, nil); err != nil {
		t.Fatalf("history (empty): %v", err)
	}
	if !strings.Contains(out.String(), "no batches yet") {
		t.Errorf("empty output = %q", out.String())
	}

	h, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Upsert(protocol.ProgressEvent{BatchID: "batch-42", Status: protocol.BatchCompleted, Total: 3, Completed: 3}); err != nil {
		t.Fatal(err)
	}
	h.Close()

	out.Reset()
	flagHistoryLimit = 5
	if err := historyCmd.RunE(historyCmd, nil); err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out.String(), "batch-42") || !strings.Contains(out.String(), "3/3") {
		t.Errorf("output missing batch row:\n%s", out.String())
	}
}
