package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/types"
)

// StreamReport is the structured JSON report written by --report.
type StreamReport struct {
	StreamID   string              `json:"stream_id"`
	RequestID  string              `json:"request_id,omitempty"`
	Upstream   string              `json:"upstream,omitempty"`
	Outcome    types.StreamOutcome `json:"outcome"`
	Error      string              `json:"error,omitempty"`
	ExitCode   int                 `json:"exit_code"`
	DurationMs int64               `json:"duration_ms"`
	EventCount int64               `json:"event_count"`

	MessageID     string            `json:"message_id"`
	MessageLength int               `json:"message_length"`
	Records       []types.Candidate `json:"records"`
	Strategy      string            `json:"strategy,omitempty"`

	Diagnostics []ReportDiagnostic `json:"diagnostics,omitempty"`
	Policy      *ReportPolicy      `json:"policy"`
	Metrics     *metrics.Snapshot  `json:"metrics"`
}

// ReportDiagnostic is a discarded fragment in the report.
type ReportDiagnostic struct {
	Kind    string `json:"kind"`
	Offset  int64  `json:"offset"`
	Size    int    `json:"size"`
	Preview string `json:"preview,omitempty"`
}

// ReportPolicy holds delivery stats in the report.
type ReportPolicy struct {
	Name            string           `json:"name"`
	EventsEmitted   int64            `json:"events_emitted"`
	EventsWritten   int64            `json:"events_written"`
	EventsDropped   int64            `json:"events_dropped"`
	EventsCoalesced int64            `json:"events_coalesced"`
	Pauses          int64            `json:"pauses"`
	DroppedByName   map[string]int64 `json:"dropped_by_name,omitempty"`
}

// BuildStreamReport composes a StreamReport from a stream Result.
// policyName is the configured policy ("strict", "buffered", "noop").
func BuildStreamReport(result *Result, policyName string, exitCode int) *StreamReport {
	ps := result.PolicyStats
	report := &StreamReport{
		Outcome:       result.Outcome,
		ExitCode:      exitCode,
		DurationMs:    result.Duration.Milliseconds(),
		EventCount:    ps.EventsAccepted,
		MessageID:     result.MessageID,
		MessageLength: len(result.Message),
		Records:       result.Records,
		Strategy:      result.Strategy,
		Policy: &ReportPolicy{
			Name:            policyName,
			EventsEmitted:   ps.TotalEvents,
			EventsWritten:   ps.EventsWritten,
			EventsDropped:   ps.EventsDropped,
			EventsCoalesced: ps.EventsCoalesced,
			Pauses:          ps.Pauses,
		},
		Metrics: &result.Metrics,
	}

	if len(ps.DroppedByName) > 0 {
		report.Policy.DroppedByName = make(map[string]int64, len(ps.DroppedByName))
		for k, v := range ps.DroppedByName {
			report.Policy.DroppedByName[string(k)] = v
		}
	}
	if meta := result.Meta; meta != nil {
		report.StreamID = meta.StreamID
		report.Upstream = meta.Upstream
		if meta.RequestID != nil {
			report.RequestID = *meta.RequestID
		}
	}
	if result.Err != nil {
		report.Error = result.Err.Error()
	}
	for _, d := range result.Diagnostics {
		report.Diagnostics = append(report.Diagnostics, ReportDiagnostic{
			Kind:    d.Kind.String(),
			Offset:  d.Offset,
			Size:    d.Size,
			Preview: d.Preview,
		})
	}
	return report
}

// WriteStreamReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteStreamReport(report *StreamReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}
	if path == "-" {
		if err := writeStreamReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

func writeStreamReportTo(report *StreamReport, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func marshalReport(report *StreamReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}
