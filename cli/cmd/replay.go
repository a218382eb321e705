package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/sluice/capture"
	"github.com/pithecene-io/sluice/cli/render"
	"github.com/pithecene-io/sluice/cli/tui"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/policy"
	"github.com/pithecene-io/sluice/recovery"
	"github.com/pithecene-io/sluice/runtime"
	"github.com/pithecene-io/sluice/transport/sse"
	"github.com/pithecene-io/sluice/types"
)

// ReplayCommand returns the replay command, which feeds a capture or a raw
// upstream dump through the streaming pipeline offline.
func ReplayCommand() *cli.Command {
	flags := append(ConfigFlags(), ReadOnlyFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:     "input",
			Aliases:  []string{"i"},
			Usage:    "Capture file or raw upstream text (- for stdin)",
			Required: true,
		},
		&cli.IntFlag{
			Name:  "chunk-size",
			Usage: "Re-split input into chunks of this many bytes (0 keeps capture boundaries)",
		},
		&cli.StringFlag{
			Name:  "policy",
			Usage: "Delivery policy: strict or buffered",
			Value: policy.NameStrict,
		},
		&cli.StringFlag{
			Name:  "events-format",
			Usage: "Event output: jsonl or sse",
			Value: "jsonl",
		},
		&cli.BoolFlag{
			Name:  "summary",
			Usage: "Print the stream report instead of events",
		},
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write the JSON stream report to this path (- for stderr)",
		},
		&cli.BoolFlag{
			Name:  "progressive",
			Usage: "Publish records as they become recoverable",
		},
	)
	return &cli.Command{
		Name:   "replay",
		Usage:  "Replay a recorded stream through the pipeline",
		Flags:  flags,
		Action: replayAction,
	}
}

// lineSink writes one JSON object per event.
type lineSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineSink(w io.Writer) *lineSink {
	return &lineSink{enc: json.NewEncoder(w)}
}

func (s *lineSink) WriteEvents(ctx context.Context, events []*types.CanonicalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *lineSink) Close() error {
	return nil
}

// replayOptions is the resolved replay configuration.
type replayOptions struct {
	input        string
	chunkSize    int
	policyName   string
	eventsFormat string
	quiet        bool
	progressive  bool
	level        zapcore.Level
}

func replayAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeUsage)
	}
	fc, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeUsage)
	}
	level, err := logLevel(c, fc, zapcore.WarnLevel)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeUsage)
	}
	engine, err := buildEngine(fc.Recovery)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid recovery config: %v", err), runtime.ExitCodeUsage)
	}

	opts := replayOptions{
		input:        c.String("input"),
		chunkSize:    c.Int("chunk-size"),
		policyName:   resolveString(c, "policy", fc.Stream.Policy),
		eventsFormat: c.String("events-format"),
		quiet:        c.Bool("summary") || c.Bool("tui"),
		progressive:  resolveBool(c, "progressive", fc.Stream.Progressive),
		level:        level,
	}
	if opts.chunkSize < 0 {
		return cli.Exit("--chunk-size must be >= 0", runtime.ExitCodeUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := replay(ctx, opts, engine, os.Stdout, os.Stderr)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeUsage)
	}

	code := runtime.ExitCodeFor(result.Outcome)
	report := runtime.BuildStreamReport(result, opts.policyName, code)
	if path := c.String("report"); path != "" {
		if err := runtime.WriteStreamReport(report, path); err != nil {
			return cli.Exit(err.Error(), runtime.ExitCodeUsage)
		}
	}

	switch {
	case c.Bool("tui"):
		if err := r.RenderTUI(tui.ViewReport, report); err != nil {
			return cli.Exit(err.Error(), runtime.ExitCodeUsage)
		}
	case c.Bool("summary"):
		if err := r.Render(report); err != nil {
			return cli.Exit(err.Error(), runtime.ExitCodeUsage)
		}
	default:
		if isStderrTTY() {
			log.NewLoggerWithWriter(result.Meta, os.Stderr, zapcore.InfoLevel).Sugar().Infof(
				"replay finished: outcome=%s events=%d records=%d", result.Outcome, report.EventCount, len(result.Records))
		}
	}

	return cli.Exit("", code)
}

// replay runs one input through a fresh stream. Events go to out unless
// opts.quiet is set; logs go to logOut.
func replay(ctx context.Context, opts replayOptions, engine *recovery.Engine, out, logOut io.Writer) (*runtime.Result, error) {
	in, closeIn, err := openInput(opts.input)
	if err != nil {
		return nil, err
	}
	defer closeIn()

	br := bufio.NewReader(in)
	var rd *capture.Reader
	meta := &types.StreamMeta{
		StreamID: uuid.NewString(),
		Upstream: "file://" + filepath.Base(opts.input),
	}
	if capture.Sniff(br) {
		rd, err = capture.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("read capture: %w", err)
		}
		meta = rd.Meta()
	}

	logger := log.NewLoggerWithWriter(meta, logOut, opts.level)

	var sink policy.Sink
	choice := policy.Choice{Name: opts.policyName}
	switch {
	case opts.quiet:
		choice.Name = policy.NameNoop
	case opts.eventsFormat == "sse":
		sink = sse.NewStreamWriter(out)
	case opts.eventsFormat == "jsonl":
		sink = newLineSink(out)
	default:
		return nil, fmt.Errorf("invalid --events-format: %q (must be jsonl or sse)", opts.eventsFormat)
	}

	pol, err := policy.Build(choice, sink, meta.StreamID, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid --policy: %w", err)
	}
	defer func() {
		if err := pol.Close(); err != nil {
			logger.Warn("policy close failed", map[string]any{"error": err.Error()})
		}
	}()

	stream, err := runtime.NewStream(runtime.StreamConfig{
		Meta:        meta,
		Policy:      pol,
		Logger:      logger,
		Collector:   metrics.NewCollector(choice.Name, "replay", meta.StreamID),
		Recovery:    engine,
		ReadSize:    opts.chunkSize,
		Progressive: opts.progressive,
	})
	if err != nil {
		return nil, err
	}

	if rd == nil {
		return stream.Run(ctx, br), nil
	}
	return stream.Finalize(ctx, feedCapture(ctx, stream, rd, opts.chunkSize)), nil
}

// feedCapture ingests every recorded chunk, optionally re-split, and
// returns the error that ended the stream early, if any.
func feedCapture(ctx context.Context, stream *runtime.Stream, rd *capture.Reader, chunkSize int) error {
	for {
		if err := ctx.Err(); err != nil {
			return &runtime.StreamError{Kind: runtime.StreamErrorCanceled, Err: err}
		}
		chunk, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &runtime.StreamError{Kind: runtime.StreamErrorTransport, Err: err}
		}
		for _, part := range split(chunk.Data, chunkSize) {
			if err := stream.Ingest(ctx, part); err != nil {
				return err
			}
		}
	}
}

func split(data []byte, size int) [][]byte {
	if size <= 0 || len(data) <= size {
		return [][]byte{data}
	}
	parts := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > size {
		parts = append(parts, data[:size])
		data = data[size:]
	}
	return append(parts, data)
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
