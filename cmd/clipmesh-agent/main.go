// Command clipmesh-agent runs one device's clipboard-trust node: it keeps
// the core wired up for as long as the process lives, and exposes pairing
// and trust management as one-shot subcommands against the same on-disk
// state the long-running "run" subcommand uses.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/clipmesh/cmd/clipmesh-agent/cli"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("CLIPMESH_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	root := &ffcli.Command{
		Name:       "clipmesh-agent",
		ShortUsage: "clipmesh-agent <subcommand> [flags]",
		ShortHelp:  "Run or control a clipboard-trust agent",
		Subcommands: []*ffcli.Command{
			cli.RunCmd(),
			cli.PairCmd(),
			cli.TrustCmd(),
		},
		Exec: func(ctx context.Context, args []string) error {
			return flag.ErrHelp
		},
	}

	if err := root.ParseAndRun(context.Background(), os.Args[1:]); err != nil {
		log.Error().Err(err).Msg("clipmesh-agent: command failed")
		os.Exit(1)
	}
}
