package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aviarylabs/voice-console/internal/config"
	"github.com/aviarylabs/voice-console/internal/media"
	"github.com/aviarylabs/voice-console/internal/observability"
	"github.com/aviarylabs/voice-console/internal/render"
	"github.com/aviarylabs/voice-console/internal/session"
	"github.com/aviarylabs/voice-console/internal/token"
	"github.com/aviarylabs/voice-console/internal/transcript"
	"github.com/aviarylabs/voice-console/internal/transport"
)

var rootCmd = &cobra.Command{
	Use:   "voice-console",
	Short: "Terminal console for live voice agent sessions",
	Long: `voice-console connects to a realtime voice agent room, publishes the
local microphone, and renders a merged transcript of both sides of the
conversation. Typed input is interleaved with speech.

Commands inside a session:
  /start        start a session
  /stop         end the current session
  /mute         toggle the microphone
  /clear        clear the transcript
  /quit         exit
Any other input is sent to the agent as a chat message.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voice-console: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.WithSession(observability.NewSessionID())

	logger.Info().
		Str("token_service_url", cfg.TokenServiceURL).
		Str("voice", cfg.Voice).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice console starting")

	metricsServer := startMetricsServer(*cfg, logger)

	devices, err := media.NewSystemDevices()
	if err != nil {
		logger.Warn().Err(err).Msg("Audio backend unavailable, sessions will fail to start")
		// Keep going so the user sees the remediation message on /start
	}

	sink := media.NewBufferedSink(cfg.PlaybackBufferSize)
	gestures := media.NewGestures()
	player := media.NewPlayer(sink, gestures, logger)

	renderer := render.NewTerminal(os.Stdout)
	rec := transcript.NewReconciler(renderer, logger)

	room := transport.NewWSRoom(logger)
	tokens := token.NewClient(cfg.TokenServiceURL)

	var dev media.Devices = devices
	if devices == nil {
		dev = unavailableDevices{}
	}
	ctrl := session.NewController(*cfg, room, dev, tokens, rec, player, logger)
	ctrl.OnStateChange = func(s session.State) {
		fmt.Printf("· session: %s\n", s)
	}

	lines := make(chan string)
	go readInput(lines)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("Type /start to begin a session, /quit to exit.")

loop:
	for {
		select {
		case <-sigs:
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			// Console input is the user gesture that unblocks playback
			sink.Activate()
			gestures.Fire()

			if done := handleLine(ctrl, line); done {
				break loop
			}
		}
	}

	logger.Info().Msg("Shutting down")
	ctrl.Stop()
	if devices != nil {
		devices.Close()
	}

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("Metrics server forced to shut down")
		}
	}

	logger.Info().Msg("Voice console exited")
	return nil
}

// handleLine executes one console command, returning true to exit
func handleLine(ctrl *session.Controller, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	switch line {
	case "/quit", "/exit":
		return true

	case "/start":
		go func() {
			if err := ctrl.Start(context.Background()); err != nil {
				fmt.Printf("! %v\n", err)
			}
		}()

	case "/stop":
		ctrl.Stop()

	case "/mute":
		enabled, err := ctrl.Microphone().Toggle()
		if err != nil {
			fmt.Printf("! microphone toggle failed: %v\n", err)
			return false
		}
		if enabled {
			fmt.Println("· microphone on")
		} else {
			fmt.Println("· microphone muted")
		}

	case "/clear":
		ctrl.ClearTranscript()

	default:
		if strings.HasPrefix(line, "/") {
			fmt.Printf("! unknown command %s\n", line)
			return false
		}
		if err := ctrl.SendText(line); err != nil {
			fmt.Printf("! %v\n", err)
		}
	}
	return false
}

func readInput(lines chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
	close(lines)
}

// startMetricsServer serves health, readiness and Prometheus metrics
func startMetricsServer(cfg config.Config, logger zerolog.Logger) *http.Server {
	if !cfg.MetricsEnabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	tokenCheck := func(ctx context.Context) (bool, error) {
		if cfg.TokenServiceURL == "" {
			return false, fmt.Errorf("token service URL is not configured")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.TokenServiceURL, nil)
		if err != nil {
			return false, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false, err
		}
		resp.Body.Close()
		return true, nil
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"token_service": tokenCheck,
	}))

	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics endpoint listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return server
}

// unavailableDevices reports every acquisition as unsupported
type unavailableDevices struct{}

func (unavailableDevices) AcquireMicrophone(ctx context.Context, cfg media.CaptureConfig) (media.CaptureTrack, error) {
	return nil, media.ErrCaptureUnsupported
}

func (unavailableDevices) Close() {}
