package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pithecene-io/sluice/runtime"
	"github.com/pithecene-io/sluice/types"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{"json lowercase", "json", FormatJSON, false},
		{"json uppercase", "JSON", FormatJSON, false},
		{"jsonl", "jsonl", FormatJSONL, false},
		{"table", "table", FormatTable, false},
		{"yaml", "yaml", FormatYAML, false},
		{"empty", "", "", false},
		{"invalid", "xml", "", true},
		{"invalid with message", "csv", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseFormat_InvalidErrorMessage(t *testing.T) {
	_, err := ParseFormat("xml")
	if err == nil {
		t.Fatal("expected error for invalid format")
	}
	if !strings.Contains(err.Error(), "json, jsonl, table, or yaml") {
		t.Errorf("error message should mention valid formats, got: %v", err)
	}
}

func score(v float64) *float64 { return &v }

func testRecords() []types.Candidate {
	return []types.Candidate{
		{GithubUsername: "abc", Name: "Ada", Role: "Backend", Location: "Berlin", PrimaryLanguage: "Go", MatchScore: score(0.91), Skills: []string{"go", "k8s"}},
		{Name: "Grace", Location: "Arlington"},
	}
}

func TestRenderer_JSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, false, &buf)

	if err := r.Render(testRecords()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	var got []types.Candidate
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if len(got) != 2 || got[0].GithubUsername != "abc" {
		t.Errorf("unexpected records: %+v", got)
	}
}

func TestRenderer_JSONL(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSONL, false, &buf)

	if err := r.Render(testRecords()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var first types.Candidate
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 1 is not JSON: %v", err)
	}
	if first.Name != "Ada" {
		t.Errorf("expected Ada, got %q", first.Name)
	}
}

func TestRenderer_JSONL_NonSlice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSONL, false, &buf)

	if err := r.Render(map[string]string{"key": "value"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := buf.String(); got != "{\"key\":\"value\"}\n" {
		t.Errorf("unexpected output: %q", got)
	}
}

func TestRenderer_YAML(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatYAML, false, &buf)

	if err := r.Render(testRecords()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "github_username: abc") || !strings.Contains(got, "name: Grace") {
		t.Errorf("YAML output missing expected content: %s", got)
	}
}

func TestRenderer_Table_Records(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	if err := r.Render(testRecords()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "HANDLE") || !strings.Contains(lines[0], "SCORE") {
		t.Errorf("unexpected header: %q", lines[0])
	}
	for _, want := range []string{"abc", "Ada", "Berlin", "0.91", "go, k8s"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row 1 missing %q: %q", want, lines[1])
		}
	}
	// Handle falls back to the name when there is no username.
	if !strings.HasPrefix(lines[2], "Grace") {
		t.Errorf("row 2 should start with Grace: %q", lines[2])
	}
}

func TestRenderer_Table_NoRecords(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	if err := r.Render([]types.Candidate{}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := buf.String(); got != "(no records)\n" {
		t.Errorf("unexpected output: %q", got)
	}
}

func TestRenderer_Table_Events(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	events := []*types.CanonicalEvent{
		{Seq: 1, Name: types.EventThought, Payload: map[string]any{"title": "Planning", "text": "**Planning** the search"}},
		{Seq: 2, Name: types.EventFunctionCall, Payload: map[string]any{"name": "search_github"}},
		{Seq: 3, Name: types.EventContentDelta, Payload: map[string]any{"delta": "Here are\nthe matches"}},
		{Seq: 4, Name: types.EventMessageComplete, Payload: map[string]any{"outcome": "completed", "records": testRecords()}},
	}
	if err := r.Render(events); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	for _, want := range []string{"SEQ", "Planning", "search_github", "Here are the matches", "completed, 2 records"} {
		if !strings.Contains(got, want) {
			t.Errorf("table missing %q:\n%s", want, got)
		}
	}
}

func TestRenderer_Table_Report(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	report := &runtime.StreamReport{
		StreamID:   "stream-001",
		Outcome:    types.OutcomeTransportError,
		Error:      "connection reset",
		ExitCode:   1,
		EventCount: 7,
		Records:    testRecords(),
	}
	if err := r.Render(report); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	for _, want := range []string{"stream-001", "transport_error", "connection reset"} {
		if !strings.Contains(got, want) {
			t.Errorf("report missing %q:\n%s", want, got)
		}
	}
	if !strings.Contains(got, "records:") {
		t.Errorf("report missing records row:\n%s", got)
	}
}

func TestRenderer_Table_Struct(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	type TestStruct struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	if err := r.Render(TestStruct{Name: "test", Value: 42}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "name:") || !strings.Contains(got, "test") {
		t.Errorf("Table output missing name field: %s", got)
	}
	if !strings.Contains(got, "value:") || !strings.Contains(got, "42") {
		t.Errorf("Table output missing value field: %s", got)
	}
}

func TestRenderer_Table_EmptySlice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	if err := r.Render([]string{}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "(no results)") {
		t.Errorf("Empty slice should show '(no results)', got: %s", buf.String())
	}
}

func TestRenderer_NoColor_DoesNotAffectJSON(t *testing.T) {
	var bufColor, bufNoColor bytes.Buffer

	rColor := NewRendererWithWriter(FormatJSON, false, &bufColor)
	rNoColor := NewRendererWithWriter(FormatJSON, true, &bufNoColor)

	data := map[string]string{"key": "value"}
	if err := rColor.Render(data); err != nil {
		t.Fatalf("Render with color failed: %v", err)
	}
	if err := rNoColor.Render(data); err != nil {
		t.Fatalf("Render without color failed: %v", err)
	}

	if bufColor.String() != bufNoColor.String() {
		t.Errorf("--no-color should not affect JSON output")
	}
}

func TestRenderTUI_Unsupported(t *testing.T) {
	r := NewRendererWithWriter(FormatTable, true, &bytes.Buffer{})
	if err := r.RenderTUI("events", nil); err == nil {
		t.Fatal("expected error for unsupported view")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"line one\nline two", 40, "line one line two"},
		{"abcdefghij", 5, "abcd…"},
		{"héllo wörld", 4, "hél…"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
