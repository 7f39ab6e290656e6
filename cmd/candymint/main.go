package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "candymint",
		Usage: "Candy machine minting client and operator CLI",
		Description: `A command-line tool for the candymint service.

Use it to inspect a candy machine, check a wallet's eligibility, mint,
follow mint outcomes live and manage the snapshot refresh schedule.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// HTTP API commands
			stateCommand(),
			eligibilityCommand(),
			attemptsCommand(),
			mintCommands(),
			streamCommand(),
			// NATS event commands
			{
				Name:  "nats",
				Usage: "NATS event stream commands",
				Subcommands: []*cli.Command{
					watchCommand(),
					inspectStreamCommand(),
				},
			},
			// Temporal management commands
			{
				Name:  "temporal",
				Usage: "Temporal schedule and workflow commands",
				Subcommands: []*cli.Command{
					scheduleRefreshCommand(),
					describeScheduleCommand(),
					deleteScheduleCommand(),
					startMintWorkflowCommand(),
				},
			},
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					listAttemptsCommand(),
					latestSnapshotCommand(),
					pruneSnapshotsCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		Flags: globalFlags(),
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server-url",
			Usage:   "candymint server URL",
			EnvVars: []string{"SERVER_URL"},
			Value:   "http://localhost:8080",
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server URL",
			EnvVars: []string{"NATS_URL"},
			Value:   "nats://localhost:4222",
		},
		&cli.StringFlag{
			Name:    "temporal-host",
			Usage:   "Temporal server address",
			EnvVars: []string{"TEMPORAL_HOST"},
			Value:   "localhost:7233",
		},
		&cli.StringFlag{
			Name:    "temporal-namespace",
			Usage:   "Temporal namespace",
			EnvVars: []string{"TEMPORAL_NAMESPACE"},
			Value:   "default",
		},
		&cli.StringFlag{
			Name:    "temporal-task-queue",
			Usage:   "Temporal task queue",
			EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
			Value:   "candymint",
		},
		&cli.StringFlag{
			Name:    "machine",
			Usage:   "Candy machine address (for temporal and db commands)",
			EnvVars: []string{"CANDY_MACHINE_ID"},
		},
		&cli.StringFlag{
			Name:    "network",
			Usage:   "Solana network (for db commands)",
			EnvVars: []string{"SOLANA_NETWORK"},
			Value:   "devnet",
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
		&cli.StringFlag{
			Name:  "jq",
			Usage: "Filter JSON output through a jq expression (implies --json)",
		},
	}
}
