package runtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pithecene-io/sluice/frame"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/policy"
	"github.com/pithecene-io/sluice/types"
)

func newTestResult() *Result {
	requestID := "req-7"
	score := 88.0
	return &Result{
		Meta: &types.StreamMeta{
			StreamID:  "stream-001",
			RequestID: &requestID,
			Upstream:  "http://agent.local/run_sse",
		},
		Outcome:   types.OutcomeCompleted,
		MessageID: "msg-1",
		Message:   "hello world",
		Records: []types.Candidate{
			{GithubUsername: "abc", MatchScore: &score},
		},
		Strategy: "strict",
		Diagnostics: []*frame.FrameError{
			{Kind: frame.FrameErrorResidual, Offset: 120, Size: 9, Preview: `{"tail":`},
		},
		PolicyStats: policy.Stats{
			TotalEvents:     12,
			EventsAccepted:  10,
			EventsWritten:   10,
			EventsDropped:   1,
			EventsCoalesced: 1,
			DroppedByName:   map[types.EventName]int64{types.EventMetadata: 1},
		},
		Metrics:  metrics.Snapshot{StreamsStarted: 1, StreamsCompleted: 1, Policy: "buffered"},
		Duration: 1500 * time.Millisecond,
	}
}

func TestBuildStreamReport(t *testing.T) {
	report := BuildStreamReport(newTestResult(), "buffered", ExitCodeOK)

	if report.StreamID != "stream-001" || report.RequestID != "req-7" {
		t.Errorf("ids = %q / %q", report.StreamID, report.RequestID)
	}
	if report.Outcome != types.OutcomeCompleted || report.Error != "" {
		t.Errorf("outcome = %s error = %q", report.Outcome, report.Error)
	}
	if report.DurationMs != 1500 || report.EventCount != 10 {
		t.Errorf("duration = %d events = %d", report.DurationMs, report.EventCount)
	}
	if report.MessageLength != len("hello world") || len(report.Records) != 1 {
		t.Errorf("message length = %d records = %d", report.MessageLength, len(report.Records))
	}
	if report.Policy.Name != "buffered" || report.Policy.DroppedByName["metadata"] != 1 {
		t.Errorf("policy = %+v", report.Policy)
	}
	if len(report.Diagnostics) != 1 || report.Diagnostics[0].Kind != "residual" {
		t.Errorf("diagnostics = %+v", report.Diagnostics)
	}
}

func TestBuildStreamReport_Failure(t *testing.T) {
	res := newTestResult()
	res.Outcome = types.OutcomeTransportError
	res.Err = &StreamError{Kind: StreamErrorTransport, Err: errors.New("connection reset")}
	res.Meta.RequestID = nil

	report := BuildStreamReport(res, "strict", ExitCodeTransportError)
	if report.Error != "transport: connection reset" {
		t.Errorf("Error = %q", report.Error)
	}
	if report.RequestID != "" || report.ExitCode != ExitCodeTransportError {
		t.Errorf("request id = %q exit = %d", report.RequestID, report.ExitCode)
	}
}

func TestWriteStreamReport_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	report := BuildStreamReport(newTestResult(), "buffered", ExitCodeOK)

	if err := WriteStreamReport(report, path); err != nil {
		t.Fatalf("WriteStreamReport: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	for _, key := range []string{"stream_id", "outcome", "exit_code", "duration_ms", "records", "policy", "metrics"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("report missing %q", key)
		}
	}
	if data[len(data)-1] != '\n' {
		t.Error("report must end with a newline")
	}
}

func TestWriteStreamReport_EmptyPath(t *testing.T) {
	if err := WriteStreamReport(&StreamReport{}, ""); err == nil {
		t.Error("empty path: want error")
	}
}

func TestWriteStreamReportTo(t *testing.T) {
	var buf bytes.Buffer
	if err := writeStreamReportTo(BuildStreamReport(newTestResult(), "noop", 0), &buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"github_username": "abc"`)) {
		t.Errorf("report = %s", buf.String())
	}
}
