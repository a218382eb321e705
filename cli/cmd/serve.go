package cmd

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/sluice/adapter"
	"github.com/pithecene-io/sluice/adapter/redis"
	"github.com/pithecene-io/sluice/adapter/webhook"
	"github.com/pithecene-io/sluice/cli/config"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/policy"
	"github.com/pithecene-io/sluice/server"
)

// ServeCommand returns the serve command, which runs the streaming gateway.
func ServeCommand() *cli.Command {
	flags := append(ConfigFlags(),
		&cli.StringFlag{
			Name:  "listen",
			Usage: "Address to listen on",
			Value: ":8080",
		},
		&cli.StringFlag{
			Name:    "upstream",
			Usage:   "Agent backend URL that receives forwarded requests",
			EnvVars: []string{"SLUICE_UPSTREAM"},
		},
		&cli.StringSliceFlag{
			Name:  "upstream-header",
			Usage: "Header added to upstream requests, as Name=value (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "upstream-timeout",
			Usage: "Timeout for upstream response headers",
			Value: 30 * time.Second,
		},
		&cli.StringFlag{
			Name:  "policy",
			Usage: "Delivery policy: strict or buffered",
			Value: policy.NameStrict,
		},
		&cli.IntFlag{
			Name:  "queue-size",
			Usage: "Queue capacity for the buffered policy",
			Value: policy.DefaultQueueSize,
		},
		&cli.DurationFlag{
			Name:  "stall-timeout",
			Usage: "How long the producer may stay paused on a slow client",
			Value: policy.DefaultStallTimeout,
		},
		&cli.DurationFlag{
			Name:  "idle-timeout",
			Usage: "Finalize a stream after this long without upstream bytes (0 disables)",
			Value: 2 * time.Minute,
		},
		&cli.DurationFlag{
			Name:  "write-timeout",
			Usage: "Timeout for a single write to the client",
			Value: 10 * time.Second,
		},
		&cli.IntFlag{
			Name:  "max-buffer-bytes",
			Usage: "Bound on unconsumed upstream bytes per stream (0 selects the default)",
		},
		&cli.BoolFlag{
			Name:  "progressive",
			Usage: "Publish records as they become recoverable",
		},
		&cli.StringFlag{
			Name:  "capture-dir",
			Usage: "Record every upstream stream into this directory",
		},
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Completion notification adapter: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Webhook endpoint or Redis URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel",
		},
		&cli.StringFlag{
			Name:  "adapter-stream",
			Usage: "Redis stream that also receives every notification",
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Notification retry attempts",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Timeout for a single notification attempt",
		},
		&cli.DurationFlag{
			Name:  "notify-timeout",
			Usage: "Overall bound on a completion notification",
			Value: 30 * time.Second,
		},
	)
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the streaming gateway",
		Flags:  flags,
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	fc, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	level, err := logLevel(c, fc, zapcore.InfoLevel)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger := log.NewServiceLogger("server", level)
	defer func() { _ = logger.Sync() }()

	cfg, err := resolveServe(c, fc)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	engine, err := buildEngine(fc.Recovery)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid recovery config: %v", err), 1)
	}
	notifier, err := buildAdapter(c, fc.Adapter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid adapter config: %v", err), 1)
	}
	if notifier != nil {
		defer func() {
			if err := notifier.Close(); err != nil {
				logger.Warn("adapter close failed", map[string]any{"error": err.Error()})
			}
		}()
	}

	srv, err := server.New(cfg, server.Options{
		Logger:   logger,
		Recovery: engine,
		Adapter:  notifier,
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listen := resolveString(c, "listen", fc.Listen)
	if err := srv.ListenAndServe(ctx, listen); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

// resolveServe merges flags over the config file into a server config.
func resolveServe(c *cli.Context, fc *config.Config) (server.Config, error) {
	headers := maps.Clone(fc.Upstream.Headers)
	for _, h := range c.StringSlice("upstream-header") {
		name, value, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return server.Config{}, fmt.Errorf("invalid --upstream-header %q: want Name=value", h)
		}
		if headers == nil {
			headers = make(map[string]string)
		}
		headers[strings.TrimSpace(name)] = value
	}

	cfg := server.Config{
		Upstream: server.UpstreamConfig{
			URL:     resolveString(c, "upstream", fc.Upstream.URL),
			Headers: headers,
			Timeout: resolveDuration(c, "upstream-timeout", fc.Upstream.Timeout),
		},
		Policy: policy.Choice{
			Name:         resolveString(c, "policy", fc.Stream.Policy),
			QueueSize:    resolveInt(c, "queue-size", fc.Stream.QueueSize),
			StallTimeout: resolveDuration(c, "stall-timeout", fc.Stream.StallTimeout),
		},
		IdleTimeout:    resolveDuration(c, "idle-timeout", fc.Stream.IdleTimeout),
		WriteTimeout:   resolveDuration(c, "write-timeout", fc.Stream.WriteTimeout),
		MaxBufferBytes: resolveInt(c, "max-buffer-bytes", fc.Stream.MaxBufferBytes),
		Progressive:    resolveBool(c, "progressive", fc.Stream.Progressive),
		CaptureDir:     resolveString(c, "capture-dir", fc.Capture.Dir),
		NotifyTimeout:  c.Duration("notify-timeout"),
	}
	if cfg.Upstream.URL == "" {
		return server.Config{}, fmt.Errorf("--upstream or upstream.url is required")
	}
	if cfg.Policy.Name == policy.NameNoop {
		return server.Config{}, fmt.Errorf("invalid --policy: noop cannot serve clients")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return server.Config{}, fmt.Errorf("invalid --policy: %w", err)
	}
	return cfg, nil
}

// buildAdapter creates the completion adapter, or nil when none is
// configured.
func buildAdapter(c *cli.Context, ac config.AdapterConfig) (adapter.Adapter, error) {
	kind := resolveString(c, "adapter", ac.Type)
	if kind == "" {
		return nil, nil
	}
	url := resolveString(c, "adapter-url", ac.URL)
	timeout := resolveDuration(c, "adapter-timeout", ac.Timeout)

	retries := -1
	switch {
	case c.IsSet("adapter-retries"):
		retries = c.Int("adapter-retries")
	case ac.Retries != nil:
		retries = *ac.Retries
	}

	switch kind {
	case "webhook":
		if retries < 0 {
			retries = webhook.DefaultRetries
		}
		return webhook.New(webhook.Config{
			URL:     url,
			Headers: ac.Headers,
			Timeout: timeout,
			Retries: retries,
		})
	case "redis":
		if retries < 0 {
			retries = redis.DefaultRetries
		}
		return redis.New(redis.Config{
			URL:          url,
			Channel:      resolveString(c, "adapter-channel", ac.Channel),
			Stream:       resolveString(c, "adapter-stream", ac.Stream),
			StreamMaxLen: ac.StreamMaxLen,
			Timeout:      timeout,
			Retries:      retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter %q (must be webhook or redis)", kind)
	}
}
