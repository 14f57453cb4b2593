// Command delila-recorder runs the Sort-Recorder: it subscribes to the
// merger's publish socket, time-sorts events with a tail margin, and
// writes rotating checksummed segment files.
package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/usnistgov/delila/compress"
	"github.com/usnistgov/delila/config"
	"github.com/usnistgov/delila/control"
	"github.com/usnistgov/delila/recorder"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to config.toml")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("delila-recorder: load config")
	}
	rc := cfg.Network.Recorder

	rec := recorder.New(rc.Subscribe, recorder.Config{
		OutputDir:       rc.OutputDir,
		MinBufferEvents: rc.MinBufferEvents,
		MinMargin:       rc.MinMargin,
		MarginRatio:     rc.MarginRatio,
		RotationBytes:   rc.RotationBytes,
		RotationPeriod:  rc.RotationPeriod(),
		Archive:         compress.Algorithm(rc.Archive),
	})
	svc := control.NewService("Recorder", rec.Watcher(), rec)

	log.Info().Str("command", rc.Command).Msg("delila-recorder: serving command channel")
	if err := svc.Serve(rc.Command); err != nil {
		log.Error().Err(err).Msg("delila-recorder: command server exited")
		os.Exit(1)
	}
}
