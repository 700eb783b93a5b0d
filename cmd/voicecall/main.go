// voicecall is the terminal calling client. It registers a short numeric
// identity with the broker and places or auto-answers one call at a time.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/adapters/clipboard"
	"github.com/dkeye/voicecall/internal/adapters/device"
	"github.com/dkeye/voicecall/internal/adapters/peer"
	"github.com/dkeye/voicecall/internal/adapters/rtc"
	"github.com/dkeye/voicecall/internal/app/call"
	"github.com/dkeye/voicecall/internal/app/media"
	"github.com/dkeye/voicecall/internal/app/signaling"
	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/ui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.LoadClient(os.Args[1:])
	if err != nil {
		return err
	}

	// The terminal belongs to the UI from here on.
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	log.Logger = zerolog.New(logFile).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	clk := clock.New()
	mic := device.NewToneDevice(device.Config{
		Kind:       cfg.Device.Kind,
		Frequency:  cfg.Device.Frequency,
		Amplitude:  cfg.Device.Amplitude,
		SampleRate: cfg.Device.SampleRate,
		Allow:      cfg.Device.Allow,
	}, clk)
	monitor := media.NewMonitor(mic, media.WithClock(clk), media.WithFrameInterval(cfg.FrameInterval))
	// No audio output stack; decoded frames are counted and discarded.
	playback := device.NewPlayback(io.Discard)

	var ctl *call.Controller
	peers := peer.NewBroker(cfg.BrokerURL, rtc.WebRTCConfig(cfg.ICEServers), 0)
	manager := signaling.NewManager(peers, device.NewProbe(cfg.BrokerURL),
		signaling.WithClock(clk),
		signaling.WithRetryDelay(cfg.RetryDelay),
		signaling.WithReconnectDelay(cfg.ReconnectDelay),
		signaling.WithStatusSink(core.StatusFunc(func(s string) { ctl.SetStatus(s) })),
	)
	ctl = call.NewController(monitor, manager, playback,
		call.WithClock(clk),
		call.WithAutoAnswerDelay(cfg.AutoAnswerDelay),
		call.WithStatusHold(cfg.StatusHold),
		call.WithClipboard(clipboard.New()),
	)
	manager.OnIncomingCall(ctl.HandleIncoming)
	manager.OnReady(func(id domain.Identity) {
		log.Info().Str("module", "main").Str("id", id.String()).Msg("ready for calls")
	})
	defer func() {
		ctl.Close()
		manager.Close()
	}()

	program := tea.NewProgram(
		ui.NewModel(ctx, ctl, manager, cfg.AutoAnswerDelay),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	stop := ctl.Listen(ui.NewBridge(program.Send))
	defer stop()

	go func() {
		if err := manager.Initialize(ctx); err != nil {
			log.Error().Err(err).Str("module", "main").Msg("initialize signaling")
		}
	}()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
