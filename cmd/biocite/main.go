package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/biocite/biocite/internal/cli"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	for _, a := range os.Args[1:] {
		if a == "-v" || a == "--verbose" {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	}

	if err := cli.Execute(); err != nil {
		log.Error().Err(err).Msg("biocite failed")
		os.Exit(1)
	}
}
