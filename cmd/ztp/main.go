package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ztpkit/ztpkit/cmd/ztp/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Received interrupt signal, shutting down...")
		cancel()
	}()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("Command execution failed")
		os.Exit(1)
	}
}

// setupLogging configures the global logger used before the config is loaded. The
// --verbose and --json flags are honoured here too, so that lines logged while the
// config loads already have the requested level and format.
func setupLogging() {
	level, jsonLogs := bootstrapLogging(os.Args[1:], os.Getenv)

	if jsonLogs {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(level)
}

// bootstrapLogging picks the startup level and format. The level comes from
// ZTP_TELEMETRY_LOG_LEVEL, then LOG_LEVEL, then info; --verbose forces debug.
// Flag scanning stops at "--".
func bootstrapLogging(args []string, getenv func(string) string) (zerolog.Level, bool) {
	level := zerolog.InfoLevel
	for _, key := range []string{"ZTP_TELEMETRY_LOG_LEVEL", "LOG_LEVEL"} {
		if v := getenv(key); v != "" {
			if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil && parsed != zerolog.NoLevel {
				level = parsed
				break
			}
		}
	}

	jsonLogs := strings.EqualFold(getenv("ZTP_TELEMETRY_LOG_FORMAT"), "json")

	for _, arg := range args {
		switch arg {
		case "--":
			return level, jsonLogs
		case "-v", "--verbose", "--verbose=true":
			level = zerolog.DebugLevel
		case "--json", "--json=true":
			jsonLogs = true
		}
	}
	return level, jsonLogs
}
