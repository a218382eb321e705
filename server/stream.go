package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/pithecene-io/sluice/adapter"
	"github.com/pithecene-io/sluice/capture"
	"github.com/pithecene-io/sluice/iox"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/policy"
	"github.com/pithecene-io/sluice/runtime"
	"github.com/pithecene-io/sluice/transport/sse"
	"github.com/pithecene-io/sluice/transport/ws"
	"github.com/pithecene-io/sluice/types"
)

// RequestIDHeader carries the client's request id, echoed on every log line
// and notification of the stream.
const RequestIDHeader = "X-Request-Id"

// StreamIDHeader is set on stream responses.
const StreamIDHeader = "X-Stream-Id"

// UpstreamStatusError reports a non-2xx upstream response.
type UpstreamStatusError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	body, err := iox.ReadAllLimit(r.Body, s.cfg.MaxRequestBytes)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, iox.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), status)
		return
	}

	meta := s.newMeta(r.Header.Get(RequestIDHeader))
	w.Header().Set(StreamIDHeader, meta.StreamID)
	sink, err := sse.NewWriter(w, s.cfg.WriteTimeout)
	if err != nil {
		s.logger.ForStream(meta).Warn("client stream not opened", map[string]any{"error": err.Error()})
		return
	}

	s.pipe(r.Context(), meta, sink, "sse", body, r.Header.Get("Content-Type"))
}

func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		return
	}
	meta := s.newMeta(r.Header.Get(RequestIDHeader))
	logger := s.logger.ForStream(meta)

	body, err := ws.ReadRequest(conn, wsRequestTimeout)
	if err != nil {
		logger.Warn("websocket request not received", map[string]any{"error": err.Error()})
		iox.DiscardClose(conn)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ws.WatchClose(conn, cancel)

	s.pipe(ctx, meta, ws.NewSink(conn, s.cfg.WriteTimeout), "ws", body, "application/json")
}

func (s *Server) newMeta(requestID string) *types.StreamMeta {
	meta := &types.StreamMeta{StreamID: s.newID(), Upstream: s.cfg.Upstream.URL}
	if requestID != "" {
		meta.RequestID = &requestID
	}
	return meta
}

// pipe runs one stream end to end: open the upstream, drive the runtime,
// close the policy (which closes sink), then export metrics and notify.
func (s *Server) pipe(ctx context.Context, meta *types.StreamMeta, sink policy.Sink, transport string, body []byte, contentType string) *runtime.Result {
	logger := s.logger.ForStream(meta)
	collector := metrics.NewCollector(s.cfg.Policy.Name, transport, meta.StreamID)

	pol, err := policy.Build(s.cfg.Policy, sink, meta.StreamID, logger)
	if err != nil {
		logger.Error("policy not built", map[string]any{"error": err.Error()})
		iox.DiscardClose(sink)
		return nil
	}

	cfg := runtime.StreamConfig{
		Meta:           meta,
		Policy:         pol,
		Logger:         logger,
		Collector:      collector,
		Recovery:       s.engine,
		IdleTimeout:    s.cfg.IdleTimeout,
		MaxBufferBytes: s.cfg.MaxBufferBytes,
		Progressive:    s.cfg.Progressive,
	}
	var recorder *capture.Recorder
	if s.cfg.CaptureDir != "" {
		recorder, err = capture.Create(s.cfg.CaptureDir, meta)
		if err != nil {
			logger.Warn("capture disabled", map[string]any{"error": err.Error()})
		} else {
			cfg.Recorder = recorder
		}
	}

	stream, err := runtime.NewStream(cfg)
	if err != nil {
		logger.Error("stream not started", map[string]any{"error": err.Error()})
		iox.DiscardClose(pol)
		return nil
	}

	logger.Info("stream started", map[string]any{"transport": transport})

	var result *runtime.Result
	upstream, err := s.openUpstream(ctx, body, contentType)
	if err != nil {
		logger.Error("upstream request failed", map[string]any{"error": err.Error()})
		cause := &runtime.StreamError{Kind: runtime.StreamErrorTransport, Err: err}
		if ctx.Err() != nil {
			cause = &runtime.StreamError{Kind: runtime.StreamErrorCanceled, Err: ctx.Err()}
		}
		result = stream.Finalize(ctx, cause)
	} else {
		result = stream.Run(ctx, upstream)
	}

	if err := pol.Close(); err != nil {
		logger.Warn("policy close failed", map[string]any{"error": err.Error()})
	}
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			logger.Warn("capture close failed", map[string]any{"error": err.Error()})
		}
	}

	logger.Info("stream finished", map[string]any{
		"outcome":     string(result.Outcome),
		"events":      result.PolicyStats.EventsAccepted,
		"records":     len(result.Records),
		"strategy":    result.Strategy,
		"duration_ms": result.Duration.Milliseconds(),
	})
	s.finish(result, collector, logger)
	return result
}

// finish exports the stream's metrics and publishes its completion
// notification in the background.
func (s *Server) finish(result *runtime.Result, collector *metrics.Collector, logger *log.Logger) {
	if s.adapter == nil {
		s.exporter.Observe(collector.Snapshot())
		return
	}
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		_ = adapter.Notify(context.Background(), s.adapter, result, s.cfg.NotifyTimeout, logger, collector) //nolint:errcheck
		s.exporter.Observe(collector.Snapshot())
	}()
}

// openUpstream forwards body to the agent backend and returns the response
// body once the backend answered with a 2xx status.
func (s *Server) openUpstream(ctx context.Context, body []byte, contentType string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Upstream.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", sse.ContentType)
	for k, v := range s.cfg.Upstream.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := iox.ReadAllLimit(io.LimitReader(resp.Body, 512), 0)
		iox.DiscardClose(resp.Body)
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	return resp.Body, nil
}

// Shutdown waits for pending completion notifications, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.notifications.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
