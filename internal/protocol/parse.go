package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	errUnknownEvent = errors.New("unknown event type")
	errMissingType  = errors.New("missing type field")
)

// ParseEvent decodes a stream frame. Frames that are not JSON, carry no type,
// or carry a type other than batch_progress are rejected.
func ParseEvent(data []byte) (ProgressEvent, error) {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return ProgressEvent{}, fmt.Errorf("parse event: %w", err)
	}
	if peek.Type == "" {
		return ProgressEvent{}, errMissingType
	}

	switch peek.Type {
	case EventBatchProgress:
		var evt ProgressEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return ProgressEvent{}, fmt.Errorf("unmarshal batch_progress: %w", err)
		}
		return evt, nil
	default:
		return ProgressEvent{}, fmt.Errorf("%w: %s", errUnknownEvent, peek.Type)
	}
}

// CancelFrame builds the text frame that cancels batchID.
func CancelFrame(batchID string) string {
	return CancelFramePrefix + batchID
}

// ParseCancelFrame extracts the batch id from a cancel frame.
func ParseCancelFrame(frame string) (string, bool) {
	if !strings.HasPrefix(frame, CancelFramePrefix) {
		return "", false
	}
	id := strings.TrimPrefix(frame, CancelFramePrefix)
	if id == "" {
		return "", false
	}
	return id, true
}
