package protocol

import (
	"fmt"
	"log/slog"
)

// BackendInfo identifies and authenticates a running worker.
// It is built in full before being published and never mutated after.
type BackendInfo struct {
	BaseURL string
	Token   string
}

// String never includes the token.
func (b BackendInfo) String() string {
	return fmt.Sprintf("BackendInfo{BaseURL: %s, Token: [redacted]}", b.BaseURL)
}

// GoString keeps %#v from leaking the token too.
func (b BackendInfo) GoString() string {
	return b.String()
}

func (b BackendInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("base_url", b.BaseURL),
		slog.String("token", "[redacted]"),
	)
}

// IsZero reports whether b carries no address.
func (b BackendInfo) IsZero() bool {
	return b.BaseURL == ""
}

// ProgressEvent is the envelope of every frame on the progress stream.
// Only batch_progress is understood; other types are control frames.
type ProgressEvent struct {
	Type       string   `json:"type"`
	BatchID    string   `json:"batch_id"`
	Status     string   `json:"status"`
	Total      int      `json:"total"`
	Completed  int      `json:"completed"`
	Failed     int      `json:"failed"`
	CurrentAPL *float64 `json:"current_apl"`
}

// IsTerminal reports whether no further events are expected for the batch.
func (e ProgressEvent) IsTerminal() bool {
	return IsTerminalStatus(e.Status)
}

// Done returns how many units finished, successfully or not.
func (e ProgressEvent) Done() int {
	return e.Completed + e.Failed
}

// IsTerminalStatus reports whether status ends a batch.
func IsTerminalStatus(status string) bool {
	switch status {
	case BatchCompleted, BatchFailed, BatchCancelled:
		return true
	default:
		return false
	}
}

// BatchStatus is the worker's answer to a status poll.
type BatchStatus struct {
	BatchID    string   `json:"batch_id"`
	Status     string   `json:"status"`
	Total      int      `json:"total"`
	Completed  int      `json:"completed"`
	Failed     int      `json:"failed"`
	CurrentAPL *float64 `json:"current_apl,omitempty"`
}

// BatchResponse is returned when a batch is accepted.
type BatchResponse struct {
	BatchID string `json:"batch_id"`
}

// GenerateResponse describes a single exported pattern.
type GenerateResponse struct {
	OutputPath string `json:"output_path"`
	FileSize   int64  `json:"file_size"`
}

// CancelResponse is returned by the HTTP cancel endpoint.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorBody is the worker's conventional error shape. Detail is either a
// string or a list of validation entries.
type ErrorBody struct {
	Detail interface{} `json:"detail"`
}

// Pattern shapes.
const (
	ShapeRectangle = "rectangle"
	ShapeCircle    = "circle"
)

// PreviewRequest asks for a thumbnail of one pattern. The worker scales it
// down to fit 400px.
type PreviewRequest struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	APLPercent int    `json:"apl_percent"`
	Shape      string `json:"shape,omitempty"`
}

// GenerateRequest exports a single pattern at full size.
type GenerateRequest struct {
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	APLPercent      int    `json:"apl_percent"`
	Shape           string `json:"shape,omitempty"`
	ColorSpace      string `json:"color_space,omitempty"`
	HDRMode         string `json:"hdr_mode,omitempty"`
	HDRPeakNits     int    `json:"hdr_peak_nits,omitempty"`
	ExportFormat    string `json:"export_format,omitempty"`
	OutputDirectory string `json:"output_directory,omitempty"`
}

// BatchRequest exports one pattern per APL step in [APLRangeStart, APLRangeEnd].
type BatchRequest struct {
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	APLRangeStart   int    `json:"apl_range_start"`
	APLRangeEnd     int    `json:"apl_range_end"`
	APLStep         int    `json:"apl_step,omitempty"`
	Shape           string `json:"shape,omitempty"`
	ColorSpace      string `json:"color_space,omitempty"`
	HDRMode         string `json:"hdr_mode,omitempty"`
	HDRPeakNits     int    `json:"hdr_peak_nits,omitempty"`
	ExportFormat    string `json:"export_format,omitempty"`
	OutputDirectory string `json:"output_directory,omitempty"`
}

// Steps returns how many patterns the batch produces.
func (r BatchRequest) Steps() int {
	step := r.APLStep
	if step < 1 {
		step = 1
	}
	if r.APLRangeEnd < r.APLRangeStart {
		return 0
	}
	return (r.APLRangeEnd-r.APLRangeStart)/step + 1
}
