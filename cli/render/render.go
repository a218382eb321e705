// Package render provides centralized output rendering for the sluice CLI.
//
// Format selection rules:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format flag always overrides defaults
//   - Invalid formats are errors
//
// Color handling:
//   - --no-color affects table output only
//   - TUI mode is unaffected by --no-color (uses its own styling)
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/sluice/cli/tui"
	"github.com/pithecene-io/sluice/runtime"
	"github.com/pithecene-io/sluice/types"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "jsonl":
		return FormatJSONL, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, jsonl, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
	header  lipgloss.Style
}

// NewRenderer creates a renderer from CLI context.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}

	// Apply default format based on TTY detection
	if format == "" {
		if IsTTY(os.Stdout) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}

	return NewRendererWithWriter(format, c.Bool("no-color"), os.Stdout), nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	header := lipgloss.NewStyle()
	if !noColor {
		header = header.Bold(true)
	}
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
		header:  header,
	}
}

// Format returns the selected output format.
func (r *Renderer) Format() Format {
	return r.format
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(data)
	case FormatJSONL:
		return r.renderJSONL(data)
	case FormatTable:
		return r.renderTable(data)
	case FormatYAML:
		return r.renderYAML(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// RenderTUI initiates TUI mode for the given view type.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	if !tui.IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s", viewType)
	}
	return tui.Run(viewType, data)
}

func (r *Renderer) renderJSON(data any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// renderJSONL writes one compact line per slice element, or a single line
// for anything else.
func (r *Renderer) renderJSONL(data any) error {
	enc := json.NewEncoder(r.out)
	v := reflect.ValueOf(data)
	if v.Kind() != reflect.Slice {
		return enc.Encode(data)
	}
	for i := range v.Len() {
		if err := enc.Encode(v.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) renderYAML(data any) error {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	defer enc.Close() //nolint:errcheck
	return enc.Encode(data)
}

func (r *Renderer) renderTable(data any) error {
	switch d := data.(type) {
	case []types.Candidate:
		return r.renderRecords(d)
	case []*types.CanonicalEvent:
		return r.renderEvents(d)
	case *runtime.StreamReport:
		return r.renderReport(d)
	}

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Slice {
		return r.renderSliceTable(v)
	}
	return r.renderStructTable(data)
}

func (r *Renderer) renderRecords(records []types.Candidate) error {
	if len(records) == 0 {
		fmt.Fprintln(r.out, "(no records)")
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, c := range records {
		rows = append(rows, []string{
			c.Handle(),
			c.Name,
			c.Role,
			c.Location,
			c.PrimaryLanguage,
			formatScore(c.MatchScore),
			strings.Join(c.Skills, ", "),
		})
	}
	return r.table([]string{"HANDLE", "NAME", "ROLE", "LOCATION", "LANGUAGE", "SCORE", "SKILLS"}, rows)
}

func (r *Renderer) renderEvents(events []*types.CanonicalEvent) error {
	if len(events) == 0 {
		fmt.Fprintln(r.out, "(no events)")
		return nil
	}
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{
			fmt.Sprintf("%d", e.Seq),
			string(e.Name),
			EventSummary(e),
		})
	}
	return r.table([]string{"SEQ", "EVENT", "SUMMARY"}, rows)
}

func (r *Renderer) renderReport(rep *runtime.StreamReport) error {
	rows := [][]string{
		{"stream_id", rep.StreamID},
		{"upstream", rep.Upstream},
		{"outcome", string(rep.Outcome)},
		{"exit_code", fmt.Sprintf("%d", rep.ExitCode)},
		{"duration_ms", fmt.Sprintf("%d", rep.DurationMs)},
		{"events", fmt.Sprintf("%d", rep.EventCount)},
		{"message_length", fmt.Sprintf("%d", rep.MessageLength)},
		{"records", fmt.Sprintf("%d", len(rep.Records))},
		{"strategy", rep.Strategy},
		{"diagnostics", fmt.Sprintf("%d", len(rep.Diagnostics))},
	}
	if rep.Error != "" {
		rows = append(rows, []string{"error", rep.Error})
	}
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintf(w, "%s:\t%s\n", row[0], row[1])
	}
	return w.Flush()
}

func (r *Renderer) table(headers []string, rows [][]string) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	cells := make([]string, len(headers))
	for i, h := range headers {
		cells[i] = r.header.Render(h)
	}
	fmt.Fprintln(w, strings.Join(cells, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

// EventSummary is a one-line description of an event for tables and
// terminal views.
func EventSummary(e *types.CanonicalEvent) string {
	p := e.Payload
	str := func(k string) string {
		s, _ := p[k].(string)
		return s
	}
	switch e.Name {
	case types.EventContentDelta:
		return Truncate(str("delta"), 60)
	case types.EventThought:
		if title := str("title"); title != "" {
			return title
		}
		return Truncate(str("text"), 60)
	case types.EventFunctionCall, types.EventFunctionResponse:
		return str("name")
	case types.EventMessageComplete:
		n := 0
		if recs, ok := p["records"].([]types.Candidate); ok {
			n = len(recs)
		} else if recs, ok := p["records"].([]any); ok {
			n = len(recs)
		}
		return fmt.Sprintf("%s, %d records", str("outcome"), n)
	case types.EventError:
		return str("message")
	default:
		return str("kind")
	}
}

// Truncate shortens s to at most n runes on a single line.
func Truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 1 {
		return string(runes[:n])
	}
	return string(runes[:n-1]) + "…"
}

func formatScore(score *float64) string {
	if score == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *score)
}

func (r *Renderer) renderSliceTable(v reflect.Value) error {
	if v.Len() == 0 {
		fmt.Fprintln(r.out, "(no results)")
		return nil
	}

	headers := getHeaders(v.Index(0))
	rows := make([][]string, 0, v.Len())
	for i := range v.Len() {
		rows = append(rows, getRowValues(v.Index(i)))
	}
	return r.table(headers, rows)
}

func (r *Renderer) renderStructTable(data any) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := range v.NumField() {
			if !t.Field(i).IsExported() {
				continue
			}
			fmt.Fprintf(w, "%s:\t%s\n", getFieldName(t.Field(i)), formatValue(v.Field(i)))
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			fmt.Fprintf(w, "%v:\t%s\n", iter.Key().Interface(), formatValue(iter.Value()))
		}
	default:
		fmt.Fprintf(w, "%v\n", data)
	}

	return w.Flush()
}

func getHeaders(v reflect.Value) []string {
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return []string{"value"}
	}
	var headers []string
	t := v.Type()
	for i := range t.NumField() {
		if t.Field(i).IsExported() {
			headers = append(headers, getFieldName(t.Field(i)))
		}
	}
	return headers
}

func getRowValues(v reflect.Value) []string {
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return []string{formatValue(v)}
	}
	var values []string
	t := v.Type()
	for i := range v.NumField() {
		if t.Field(i).IsExported() {
			values = append(values, formatValue(v.Field(i)))
		}
	}
	return values
}

func getFieldName(f reflect.StructField) string {
	// Prefer json tag name
	if tag := f.Tag.Get("json"); tag != "" {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return strings.ToLower(f.Name)
}

func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
		return "{...}"
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// IsTTY returns true if the file is a terminal.
func IsTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
