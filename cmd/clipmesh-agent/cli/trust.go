package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/myelnet/clipmesh/core"
)

// TrustCmd groups the trust-management subcommands: list, approve,
// reject, remove. Each opens storage, builds just enough of a Core to
// reach Manager/Trust (the transport still starts, since Core's fixed
// startup order doesn't offer a lighter path — spec.md §9), and exits.
// Pending requests live only in the memory of the process whose
// trust.Manager received them, so a fresh trust subcommand process sees no
// pending requests: list shows none and approve/reject find none.
func TrustCmd() *ffcli.Command {
	return &ffcli.Command{
		Name:       "trust",
		ShortUsage: "clipmesh-agent trust <subcommand> [flags]",
		ShortHelp:  "Inspect and manage trusted/pending devices",
		Subcommands: []*ffcli.Command{
			trustListCmd(),
			trustApproveCmd(),
			trustRejectCmd(),
			trustRemoveCmd(),
		},
		Exec: func(ctx context.Context, args []string) error {
			return flag.ErrHelp
		},
	}
}

func openTrustCore(ctx context.Context, dataDir string) (*core.Core, func(), error) {
	storage, err := openStorage(dataDir)
	if err != nil {
		return nil, nil, err
	}
	c, err := core.New(ctx, core.Config{
		Storage:     storage,
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0/ws"},
	})
	if err != nil {
		storage.Close()
		return nil, nil, err
	}
	cleanup := func() {
		c.Close()
		storage.Close()
	}
	return c, cleanup, nil
}

func trustListCmd() *ffcli.Command {
	var dataDir string
	fs := flag.NewFlagSet("clipmesh-agent trust list", flag.ExitOnError)
	fs.StringVar(&dataDir, "data-dir", "./clipmesh-data", "directory for identity/trust storage")

	return &ffcli.Command{
		Name:       "list",
		ShortUsage: "clipmesh-agent trust list [flags]",
		ShortHelp:  "List trusted devices and pending requests",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			c, cleanup, err := openTrustCore(ctx, dataDir)
			if err != nil {
				return err
			}
			defer cleanup()

			trusted, err := c.Trust.List(ctx)
			if err != nil {
				return err
			}
			fmt.Println("trusted devices:")
			for _, d := range trusted {
				fmt.Printf("  %s  %s  last seen %s\n", d.DeviceID, d.DeviceName, d.LastSeen.Format("2006-01-02T15:04:05Z07:00"))
			}

			fmt.Println("pending requests:")
			for _, p := range c.Manager.Pending() {
				fmt.Printf("  %s  %s  received %s\n", p.DeviceID, p.DeviceName, p.ReceivedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}
}

func trustApproveCmd() *ffcli.Command {
	var dataDir string
	fs := flag.NewFlagSet("clipmesh-agent trust approve", flag.ExitOnError)
	fs.StringVar(&dataDir, "data-dir", "./clipmesh-data", "directory for identity/trust storage")

	return &ffcli.Command{
		Name:       "approve",
		ShortUsage: "clipmesh-agent trust approve <deviceId>",
		ShortHelp:  "Approve a pending trust request",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("clipmesh-agent trust approve: exactly one deviceId argument required")
			}
			c, cleanup, err := openTrustCore(ctx, dataDir)
			if err != nil {
				return err
			}
			defer cleanup()
			return c.Manager.Approve(ctx, args[0])
		},
	}
}

func trustRejectCmd() *ffcli.Command {
	var dataDir string
	fs := flag.NewFlagSet("clipmesh-agent trust reject", flag.ExitOnError)
	fs.StringVar(&dataDir, "data-dir", "./clipmesh-data", "directory for identity/trust storage")

	return &ffcli.Command{
		Name:       "reject",
		ShortUsage: "clipmesh-agent trust reject <deviceId>",
		ShortHelp:  "Reject a pending trust request",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("clipmesh-agent trust reject: exactly one deviceId argument required")
			}
			c, cleanup, err := openTrustCore(ctx, dataDir)
			if err != nil {
				return err
			}
			defer cleanup()
			c.Manager.Reject(args[0])
			return nil
		},
	}
}

func trustRemoveCmd() *ffcli.Command {
	var dataDir string
	fs := flag.NewFlagSet("clipmesh-agent trust remove", flag.ExitOnError)
	fs.StringVar(&dataDir, "data-dir", "./clipmesh-data", "directory for identity/trust storage")

	return &ffcli.Command{
		Name:       "remove",
		ShortUsage: "clipmesh-agent trust remove <deviceId>",
		ShortHelp:  "Remove an already-trusted device",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("clipmesh-agent trust remove: exactly one deviceId argument required")
			}
			c, cleanup, err := openTrustCore(ctx, dataDir)
			if err != nil {
				return err
			}
			defer cleanup()
			return c.Manager.Remove(ctx, args[0])
		},
	}
}
