package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/risa-org/wsstream"
	"github.com/risa-org/wsstream/config"
	"github.com/risa-org/wsstream/message"
	"github.com/risa-org/wsstream/metrics"
	"github.com/risa-org/wsstream/stream"
	"github.com/risa-org/wsstream/wserr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	connectURL    string
	connectDriver string
	sendBinary    bool
	showEvents    bool
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Open a connection and pipe stdin/stdout through it",
	Example: `  wscat connect --url ws://localhost:8080/ws
  wscat connect --driver tcp --url tcp://localhost:9000 --binary`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger, err := config.NewLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return run(ctx, cmd, cfg, logger, os.Stdin)
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
	connectCmd.Flags().StringVarP(&connectURL, "url", "u", "", "Endpoint, ws://, wss:// or tcp://")
	connectCmd.Flags().StringVarP(&connectDriver, "driver", "d", "", "Transport: nhooyr, gorilla or tcp")
	connectCmd.Flags().BoolVarP(&sendBinary, "binary", "b", false, "Send stdin lines as binary messages")
	connectCmd.Flags().BoolVar(&showEvents, "events", false, "Print life-cycle events to stderr")
}

// loadConfig applies flags on top of file and environment settings.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("url") {
		cfg.Connect.URL = connectURL
	}
	if cmd.Flags().Changed("driver") {
		cfg.Connect.Driver = connectDriver
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *zap.Logger, in io.Reader) error {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		srv := serveMetrics(cfg.Metrics.Address, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	dialer, err := cfg.Dialer(logger)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Connect.DialTimeout)
	h, s, err := wsstream.Connect(dialCtx, dialer,
		wsstream.WithLogger(logger),
		wsstream.WithMetrics(m),
		wsstream.WithStreamConfig(cfg.StreamOptions()),
	)
	cancel()
	if err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Connect.URL, err)
	}

	if showEvents {
		sub := h.Observe(ctx, nil)
		go func() {
			for ev := range sub.C() {
				fmt.Fprintln(cmd.ErrOrStderr(), "event:", ev)
			}
		}()
	}

	go pump(s, in, sendBinary, logger)

	// interrupt: close politely, then stop reading
	go func() {
		select {
		case <-ctx.Done():
		case <-h.Done():
			return
		}
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Connect.CloseTimeout)
		defer cancel()
		if err := s.Close(closeCtx); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	out := cmd.OutOrStdout()
	for msg, err := range s.All(context.Background()) {
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
			continue
		}
		printMessage(out, msg)
	}

	if ce, ok := h.CloseEvent(); ok {
		fmt.Fprintln(cmd.ErrOrStderr(), "closed:", ce)
	}
	return nil
}

// pump sends one message per input line. At EOF it closes the connection
// but keeps the stream, so replies already in flight are still printed.
func pump(s *stream.Stream, in io.Reader, binary bool, logger *zap.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		msg := message.Text(line)
		if binary {
			msg = message.Binary([]byte(line))
		}
		if err := s.Send(msg); err != nil {
			logger.Warn("send failed", zap.Error(err))
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("read stdin", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.Handle().Close(ctx)
	if err != nil && !errors.Is(err, wserr.ErrNotOpen) {
		logger.Warn("close failed", zap.Error(err))
	}
}

func printMessage(w io.Writer, msg message.Message) {
	if text, ok := msg.AsText(); ok {
		fmt.Fprintln(w, text)
		return
	}
	fmt.Fprintf(w, "<binary %d bytes> %x\n", msg.Len(), msg.Bytes())
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("address", addr))
	return srv
}
