package main

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/Allenmylath/dwelling-scribe/internal/bootstrap"
	"github.com/Allenmylath/dwelling-scribe/internal/ui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dwelling-scribe:", err)
		os.Exit(1)
	}
}

func run() error {
	logger, closeLog, err := buildLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	sink := ui.NewSink()
	services, err := bootstrap.Build(sink, sink, logger)
	if err != nil {
		return err
	}

	program := tea.NewProgram(ui.New(services.Session), tea.WithAltScreen())
	sink.SetProgram(program)

	_, err = program.Run()
	return err
}

// buildLogger writes diagnostics to DWELLING_LOG_FILE when set. Writing to
// stderr would tear the alt screen, so without a file the logs are dropped.
func buildLogger() (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(envOr("DWELLING_LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}

	path := os.Getenv("DWELLING_LOG_FILE")
	if path == "" {
		return zerolog.New(io.Discard), func() {}, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("failed to open log file %q: %w", path, err)
	}
	logger := zerolog.New(file).Level(level).With().Timestamp().Logger()
	return logger, func() { _ = file.Close() }, nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
