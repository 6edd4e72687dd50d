package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/victorarias/c0lor-mem/internal/protocol"
	"github.com/victorarias/c0lor-mem/internal/status"
)

const (
	cancelTimeout = 5 * time.Second
	// Events sent before the stream connects are lost; polling covers them.
	batchPollInterval = 2 * time.Second
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Export one pattern per APL step and follow progress",
	Long: `The batch command starts the worker, queues a batch export and prints
progress until the batch finishes. Interrupting it cancels the batch over
the progress stream, or over HTTP if the stream is down.`,
	RunE: runBatch,
}

func init() {
	f := batchCmd.Flags()
	f.Int("width", 3840, "Pattern width in pixels")
	f.Int("height", 2160, "Pattern height in pixels")
	f.Int("apl-start", 1, "First APL percentage")
	f.Int("apl-end", 100, "Last APL percentage")
	f.Int("apl-step", 1, "APL increment")
	f.String("shape", protocol.ShapeRectangle, "Pattern shape (rectangle, circle)")
	f.String("color-space", "rec709", "Color space (rec709, displayP3, rec2020)")
	f.String("hdr-mode", "none", "HDR mode (none, apple-gainmap, ultra-hdr)")
	f.Int("hdr-peak-nits", 1000, "HDR peak luminance")
	f.String("format", "png", "Export format (png, jpeg, heif, h264, h265)")
	f.StringP("output", "o", "", "Output directory (worker default when empty)")
}

func batchRequestFromFlags(cmd *cobra.Command) protocol.BatchRequest {
	f := cmd.Flags()
	req := protocol.BatchRequest{}
	req.Width, _ = f.GetInt("width")
	req.Height, _ = f.GetInt("height")
	req.APLRangeStart, _ = f.GetInt("apl-start")
	req.APLRangeEnd, _ = f.GetInt("apl-end")
	req.APLStep, _ = f.GetInt("apl-step")
	req.Shape, _ = f.GetString("shape")
	req.ColorSpace, _ = f.GetString("color-space")
	req.HDRMode, _ = f.GetString("hdr-mode")
	req.HDRPeakNits, _ = f.GetInt("hdr-peak-nits")
	req.ExportFormat, _ = f.GetString("format")
	req.OutputDirectory, _ = f.GetString("output")
	return req
}

func runBatch(cmd *cobra.Command, _ []string) error {
	req := batchRequestFromFlags(cmd)
	if req.Steps() == 0 {
		return fmt.Errorf("empty APL range %d..%d", req.APLRangeStart, req.APLRangeEnd)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := newShell()
	defer s.shutdown()

	if _, err := s.sup.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	// Subscribe before starting so no event for this batch is missed.
	events := make(chan protocol.ProgressEvent, 64)
	unsubscribe := s.stream.Subscribe(func(evt protocol.ProgressEvent) {
		select {
		case events <- evt:
		default:
		}
	})
	defer unsubscribe()

	batchID, err := s.api.StartBatch(ctx, req)
	if err != nil {
		return fmt.Errorf("start batch: %w", err)
	}
	fmt.Printf("batch %s: %d patterns\n", batchID, req.Steps())

	poll := time.NewTicker(batchPollInterval)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return cancelBatch(s, batchID)
		case evt := <-events:
			if evt.BatchID != batchID {
				continue
			}
			fmt.Println(status.Label(evt))
			if evt.IsTerminal() {
				return batchFinished(batchID, evt.Status)
			}
		case <-poll.C:
			st, err := s.api.BatchStatus(ctx, batchID)
			if err != nil {
				logger.Warnf("poll batch %s: %v", batchID, err)
				continue
			}
			if protocol.IsTerminalStatus(st.Status) {
				return batchFinished(batchID, st.Status)
			}
		}
	}
}

func batchFinished(batchID, batchStatus string) error {
	fmt.Printf("batch %s %s\n", batchID, batchStatus)
	if batchStatus == protocol.BatchFailed {
		return fmt.Errorf("batch %s failed", batchID)
	}
	return nil
}

func cancelBatch(s *shell, batchID string) error {
	if s.stream.SendCancel(batchID) {
		fmt.Printf("cancel sent for %s\n", batchID)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	cancelled, err := s.api.CancelBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("cancel batch: %w", err)
	}
	fmt.Printf("batch %s cancelled=%v\n", batchID, cancelled)
	return nil
}
