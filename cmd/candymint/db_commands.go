package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/brojonat/candymint/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listAttemptsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-attempts",
		Usage:     "List a wallet's recorded mint attempts",
		ArgsUsage: "<wallet_address>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 50, Usage: "Maximum number of attempts"},
			&cli.IntFlag{Name: "offset", Usage: "Number of attempts to skip"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			store, closeStore, err := getStore(c)
			if err != nil {
				return err
			}
			defer closeStore()

			attempts, err := store.ListMintAttemptsByWallet(c.Context, db.ListMintAttemptsByWalletParams{
				WalletAddress: c.Args().First(),
				Network:       c.String("network"),
				Limit:         int32(c.Int("limit")),
				Offset:        int32(c.Int("offset")),
			})
			if err != nil {
				return err
			}

			return output(c, attempts, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SIGNATURE\tOUTCOME\tSTATE\tPRICE\tPOLLS\tSUBMITTED")
				for _, a := range attempts {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%d\t%s\n",
						a.Signature, a.Outcome, a.State, a.Price.String(), a.PriceUnit,
						a.Polls, a.SubmittedAt.Format(time.RFC3339))
				}
				tw.Flush()
				fmt.Fprintf(w, "\nTotal: %d attempts\n", len(attempts))
			})
		},
	}
}

func latestSnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "latest-snapshot",
		Usage: "Show the most recent recorded snapshot of --machine",
		Action: func(c *cli.Context) error {
			machine, err := requireMachine(c)
			if err != nil {
				return err
			}
			store, closeStore, err := getStore(c)
			if err != nil {
				return err
			}
			defer closeStore()

			snap, err := store.GetLatestSnapshot(c.Context, machine, c.String("network"))
			if err != nil {
				return err
			}
			return output(c, snap, func(w io.Writer) {
				fmt.Fprintf(w, "Machine:     %s (%s)\n", snap.MachineAddress, snap.Network)
				fmt.Fprintf(w, "Items:       %d / %d remaining (%d redeemed)\n",
					snap.ItemsRemaining, snap.ItemsAvailable, snap.ItemsRedeemed)
				fmt.Fprintf(w, "Sold out:    %v\n", snap.IsSoldOut)
				fmt.Fprintf(w, "Price:       %s %s\n", snap.Price.String(), snap.PriceUnit)
				fmt.Fprintf(w, "Observed:    %s\n", snap.ObservedAt.Format(time.RFC3339))
			})
		},
	}
}

func pruneSnapshotsCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune-snapshots",
		Usage: "Delete recorded snapshots older than a cutoff",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Delete snapshots observed longer ago than this",
				Value: 7 * 24 * time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			store, closeStore, err := getStore(c)
			if err != nil {
				return err
			}
			defer closeStore()

			cutoff := time.Now().Add(-c.Duration("older-than"))
			deleted, err := store.DeleteSnapshotsOlderThan(c.Context, cutoff)
			if err != nil {
				return err
			}
			return output(c, map[string]interface{}{
				"deleted": deleted,
				"before":  cutoff,
			}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted %d snapshots observed before %s\n", deleted, cutoff.Format(time.RFC3339))
			})
		},
	}
}

// getStore connects to --database-url. The returned func closes the pool.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL or use --database-url)")
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db.NewStore(pool), pool.Close, nil
}
