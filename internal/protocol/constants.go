package protocol

import "errors"

// Worker HTTP surface
const (
	HealthPath            = "/api/v1/health"
	TestPatternPrefix     = "/api/v1/test-pattern"
	PreviewPath           = TestPatternPrefix + "/preview"
	GeneratePath          = TestPatternPrefix + "/generate"
	BatchPath             = TestPatternPrefix + "/batch"
	ProgressStreamPath    = "/ws/progress"
	StreamTokenQueryParam = "token"
)

// TokenHeader carries the per-launch secret on every HTTP request.
const TokenHeader = "X-C0lor-Mem-Token"

// RequestIDHeader tags each request so worker logs can be correlated.
const RequestIDHeader = "X-Request-ID"

// Environment handed to the worker at spawn
const (
	EnvAuthToken      = "C0LOR_MEM_AUTH_TOKEN"
	EnvAllowedOrigins = "C0LOR_MEM_ALLOWED_ORIGINS"
	EnvResourcesDir   = "C0LOR_MEM_RESOURCES_DIR"
	EnvPort           = "C0LOR_MEM_PORT"
)

// NullOrigin is what a file:// UI reports as its Origin.
const NullOrigin = "null"

// LoopbackHost is the only interface the worker is asked to bind.
const LoopbackHost = "127.0.0.1"

// Event types
const (
	EventBatchProgress = "batch_progress"
)

// Batch statuses
const (
	BatchRunning   = "running"
	BatchCompleted = "completed"
	BatchFailed    = "failed"
	BatchCancelled = "cancelled"
)

// CancelFramePrefix prefixes the text frame that asks the worker to cancel a batch.
const CancelFramePrefix = "cancel:"

// ErrBackendNotReady is returned when no BackendInfo has been published yet.
var ErrBackendNotReady = errors.New("backend not ready")
