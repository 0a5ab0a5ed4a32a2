// Package main provides the learnlog command line.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Str("command", os.Args[0]).Msg("learnlog failed")
		os.Exit(1)
	}
}
