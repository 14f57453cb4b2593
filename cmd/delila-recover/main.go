// Command delila-recover wraps recorder/filefmt.Recover: it salvages a
// segment file that never closed cleanly (process crash mid-run) into a
// new file with a valid footer, leaving the original untouched.
// Recovery is deliberately a library function invoked by this thin CLI
// rather than an operation exposed over the command channel (spec.md
// non-goals: recovery is an offline, operator-invoked step).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/usnistgov/delila/recorder/filefmt"
)

func main() {
	src := flag.String("in", "", "path to the crashed segment file")
	dst := flag.String("out", "", "path to write the recovered segment (default: <in>.recovered)")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if *src == "" {
		log.Fatal().Msg("delila-recover: -in is required")
	}
	outPath := *dst
	if outPath == "" {
		outPath = fmt.Sprintf("%s.recovered", *src)
	}

	result, err := filefmt.Recover(*src, outPath)
	if err != nil {
		log.Fatal().Err(err).Str("in", *src).Msg("delila-recover: recovery failed")
	}

	log.Info().
		Str("in", *src).
		Str("out", outPath).
		Int("blocks_recovered", result.BlocksRecovered).
		Uint64("events_recovered", result.EventsRecovered).
		Int64("truncated_at", result.TruncatedAt).
		Msg("delila-recover: recovery complete")

	os.Exit(0)
}
