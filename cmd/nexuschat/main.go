package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/INLOpen/nexuschat/app"
	"github.com/INLOpen/nexuschat/config"
	"github.com/INLOpen/nexuschat/core"
)

// createLogger creates a slog.Logger based on the provided configuration.
// It returns the logger, an io.Closer for the log file (if any), and an error.
func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		// Command output goes to stdout, so logs go to stderr.
		output = os.Stderr
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})), closer, nil
}

// initTracerProvider installs the global TracerProvider. With tracing
// disabled the global no-op provider is left in place.
func initTracerProvider(ctx context.Context, cfg config.TracingConfig, logger *slog.Logger) (func(), error) {
	if !cfg.Enabled {
		logger.Debug("Distributed tracing is disabled.")
		return func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	var exporter sdktrace.SpanExporter
	var err error
	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("nexuschat")))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}, nil
}

const metadataKey = "nexuschat"

// runtime is what Before sets up and After tears down.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	app     *app.App
	cleanup []func()
}

func setup(cctx *cli.Context) error {
	cfg, err := config.LoadConfig(cctx.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if lvl := cctx.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		return err
	}
	rt := &runtime{cfg: cfg, logger: logger}
	if logCloser != nil {
		rt.cleanup = append(rt.cleanup, func() { logCloser.Close() })
	}

	shutdownTracing, err := initTracerProvider(cctx.Context, cfg.Tracing, logger)
	if err != nil {
		rt.teardown()
		return err
	}
	rt.cleanup = append(rt.cleanup, shutdownTracing)

	a, err := app.Open(cctx.Context, cfg, logger)
	if err != nil {
		rt.teardown()
		return err
	}
	rt.app = a
	rt.cleanup = append(rt.cleanup, func() {
		if err := a.Close(); err != nil {
			logger.Error("Error closing application", "error", err)
		}
	})

	cctx.App.Metadata[metadataKey] = rt
	return nil
}

// teardown runs cleanups in reverse order.
func (rt *runtime) teardown() {
	for i := len(rt.cleanup) - 1; i >= 0; i-- {
		rt.cleanup[i]()
	}
	rt.cleanup = nil
}

func fromContext(cctx *cli.Context) *runtime {
	return cctx.App.Metadata[metadataKey].(*runtime)
}

var tokenFlag = &cli.StringFlag{
	Name:     "token",
	Usage:    "session token returned by login",
	EnvVars:  []string{"NEXUSCHAT_TOKEN"},
	Required: true,
}

func main() {
	a := &cli.App{
		Name:     "nexuschat",
		Usage:    "chat service backed by persistent order-statistic indexes",
		Metadata: map[string]interface{}{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the configuration file",
				Value:   "nexuschat.yaml",
				EnvVars: []string{"NEXUSCHAT_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override logging.level from the configuration",
			},
		},
		Before: setup,
		After: func(cctx *cli.Context) error {
			if rt, ok := cctx.App.Metadata[metadataKey].(*runtime); ok {
				rt.teardown()
			}
			return nil
		},
	}
	a.Commands = []*cli.Command{
		{
			Name:      "login",
			Usage:     "log in (registering on first use) and print a session token",
			ArgsUsage: "<user> <password>",
			Action:    runLogin,
		},
		{
			Name:   "logout",
			Usage:  "end a session",
			Flags:  []cli.Flag{tokenFlag},
			Action: runLogout,
		},
		{
			Name:      "admin",
			Usage:     "grant administrator rights to a user",
			ArgsUsage: "<user>",
			Flags:     []cli.Flag{tokenFlag},
			Action:    runAdmin,
		},
		{
			Name:      "join",
			Usage:     "join a channel, creating it if you are an administrator",
			ArgsUsage: "<channel>",
			Flags:     []cli.Flag{tokenFlag},
			Action:    runJoin,
		},
		{
			Name:      "part",
			Usage:     "leave a channel",
			ArgsUsage: "<channel>",
			Flags:     []cli.Flag{tokenFlag},
			Action:    runPart,
		},
		{
			Name:      "kick",
			Usage:     "remove a user from a channel",
			ArgsUsage: "<channel> <user>",
			Flags:     []cli.Flag{tokenFlag},
			Action:    runKick,
		},
		{
			Name:      "op",
			Usage:     "make a channel member an operator",
			ArgsUsage: "<channel> <user>",
			Flags:     []cli.Flag{tokenFlag},
			Action:    runOp,
		},
		{
			Name:      "members",
			Usage:     "print the active and total member counts of a channel",
			ArgsUsage: "<channel>",
			Flags:     []cli.Flag{tokenFlag},
			Action:    runMembers,
		},
		{
			Name:      "send",
			Usage:     "send a message to a channel or a user",
			ArgsUsage: "<contents>",
			Flags: []cli.Flag{
				tokenFlag,
				&cli.StringFlag{Name: "channel", Usage: "destination channel"},
				&cli.StringFlag{Name: "to", Usage: "destination user"},
				&cli.StringFlag{Name: "media", Value: core.MediaText.String(), Usage: "media type of the contents"},
			},
			Action: runSend,
		},
		{
			Name:      "broadcast",
			Usage:     "send a message to every user",
			ArgsUsage: "<contents>",
			Flags: []cli.Flag{
				tokenFlag,
				&cli.StringFlag{Name: "media", Value: core.MediaText.String(), Usage: "media type of the contents"},
			},
			Action: runBroadcast,
		},
		{
			Name:   "inbox",
			Usage:  "print messages that waited for this session to listen",
			Flags:  []cli.Flag{tokenFlag},
			Action: runInbox,
		},
		{
			Name:      "fetch",
			Usage:     "print a stored message",
			ArgsUsage: "<id>",
			Flags:     []cli.Flag{tokenFlag},
			Action:    runFetch,
		},
		{
			Name:   "stats",
			Usage:  "print the global counters as JSON",
			Action: runStats,
		},
		{
			Name:  "top",
			Usage: "print a top-10 ranking",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "by",
					Value: "users",
					Usage: "ranking: users, active, messages or user-channels",
				},
			},
			Action: runTop,
		},
		{
			Name:   "serve-metrics",
			Usage:  "serve prometheus metrics until interrupted",
			Action: runServeMetrics,
		},
	}

	if err := a.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func args(cctx *cli.Context, n int) ([]string, error) {
	if cctx.NArg() != n {
		return nil, fmt.Errorf("%s expects %d argument(s): %s", cctx.Command.Name, n, cctx.Command.ArgsUsage)
	}
	return cctx.Args().Slice(), nil
}

func runLogin(cctx *cli.Context) error {
	a, err := args(cctx, 2)
	if err != nil {
		return err
	}
	token, err := fromContext(cctx).app.Login(cctx.Context, a[0], a[1])
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runLogout(cctx *cli.Context) error {
	return fromContext(cctx).app.Logout(cctx.Context, cctx.String("token"))
}

func runAdmin(cctx *cli.Context) error {
	a, err := args(cctx, 1)
	if err != nil {
		return err
	}
	return fromContext(cctx).app.MakeAdministrator(cctx.Context, cctx.String("token"), a[0])
}

func runJoin(cctx *cli.Context) error {
	a, err := args(cctx, 1)
	if err != nil {
		return err
	}
	return fromContext(cctx).app.ChannelJoin(cctx.Context, cctx.String("token"), a[0])
}

func runPart(cctx *cli.Context) error {
	a, err := args(cctx, 1)
	if err != nil {
		return err
	}
	return fromContext(cctx).app.ChannelPart(cctx.Context, cctx.String("token"), a[0])
}

func runKick(cctx *cli.Context) error {
	a, err := args(cctx, 2)
	if err != nil {
		return err
	}
	return fromContext(cctx).app.ChannelKick(cctx.Context, cctx.String("token"), a[0], a[1])
}

func runOp(cctx *cli.Context) error {
	a, err := args(cctx, 2)
	if err != nil {
		return err
	}
	return fromContext(cctx).app.ChannelMakeOperator(cctx.Context, cctx.String("token"), a[0], a[1])
}

func runMembers(cctx *cli.Context) error {
	a, err := args(cctx, 1)
	if err != nil {
		return err
	}
	rt, token := fromContext(cctx), cctx.String("token")
	active, err := rt.app.NumberOfActiveUsersInChannel(cctx.Context, token, a[0])
	if err != nil {
		return err
	}
	total, err := rt.app.NumberOfTotalUsersInChannel(cctx.Context, token, a[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s active=%d total=%d\n", a[0], active, total)
	return nil
}

func draft(cctx *cli.Context, rt *runtime) (core.Message, error) {
	a, err := args(cctx, 1)
	if err != nil {
		return core.Message{}, err
	}
	media, err := core.ParseMediaType(cctx.String("media"))
	if err != nil {
		return core.Message{}, err
	}
	return rt.app.NewMessage(media, []byte(a[0])), nil
}

func runSend(cctx *cli.Context) error {
	rt := fromContext(cctx)
	msg, err := draft(cctx, rt)
	if err != nil {
		return err
	}
	channel, to := cctx.String("channel"), cctx.String("to")
	var id int64
	switch {
	case channel != "" && to != "":
		return errors.New("use either --channel or --to, not both")
	case channel != "":
		id, err = rt.app.ChannelSend(cctx.Context, cctx.String("token"), channel, msg)
	case to != "":
		id, err = rt.app.PrivateSend(cctx.Context, cctx.String("token"), to, msg)
	default:
		return errors.New("one of --channel or --to is required")
	}
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runBroadcast(cctx *cli.Context) error {
	rt := fromContext(cctx)
	msg, err := draft(cctx, rt)
	if err != nil {
		return err
	}
	id, err := rt.app.Broadcast(cctx.Context, cctx.String("token"), msg)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func printMessage(source string, msg core.Message) {
	fmt.Printf("%d\t%s\t%s\t%s\t%s\n", msg.ID, msg.Created.Format(time.RFC3339), source, msg.Media, msg.Contents)
}

func runInbox(cctx *cli.Context) error {
	rt, token := fromContext(cctx), cctx.String("token")
	// Pending messages are delivered synchronously by AddListener.
	id, err := rt.app.AddListener(cctx.Context, token, func(_ context.Context, source string, msg core.Message) error {
		printMessage(source, msg)
		return nil
	})
	if err != nil {
		return err
	}
	return rt.app.RemoveListener(cctx.Context, token, id)
}

func runFetch(cctx *cli.Context) error {
	a, err := args(cctx, 1)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(a[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", a[0], err)
	}
	msg, err := fromContext(cctx).app.FetchMessage(cctx.Context, cctx.String("token"), id)
	if err != nil {
		return err
	}
	printMessage("", msg)
	return nil
}

func runStats(cctx *cli.Context) error {
	stats, err := fromContext(cctx).app.Statistics(cctx.Context)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func runTop(cctx *cli.Context) error {
	rt := fromContext(cctx)
	var top []string
	var err error
	switch by := cctx.String("by"); by {
	case "users":
		top, err = rt.app.Top10ChannelsByUsers(cctx.Context)
	case "active":
		top, err = rt.app.Top10ActiveChannelsByUsers(cctx.Context)
	case "messages":
		top, err = rt.app.Top10ChannelsByMessages(cctx.Context)
	case "user-channels":
		top, err = rt.app.Top10UsersByChannels(cctx.Context)
	default:
		return fmt.Errorf("unknown ranking %q", by)
	}
	if err != nil {
		return err
	}
	for i, name := range top {
		fmt.Printf("%2d. %s\n", i+1, name)
	}
	return nil
}

func runServeMetrics(cctx *cli.Context) error {
	rt := fromContext(cctx)
	addr := rt.cfg.Metrics.ListenAddress

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("Serving metrics", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	rt.logger.Info("Shutting down metrics server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
