package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/candymint/client"
	"github.com/brojonat/candymint/service/candymachine"
	"github.com/brojonat/candymint/service/minter"
	"github.com/urfave/cli/v2"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

func stateCommand() *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Show the candy machine's current snapshot",
		Action: func(c *cli.Context) error {
			view, err := newClient(c).Snapshot(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get snapshot: %w", err)
			}
			return output(c, view, func(w io.Writer) {
				printSnapshot(w, view.Snapshot, view.EvaluatedAt)
			})
		},
	}
}

func eligibilityCommand() *cli.Command {
	return &cli.Command{
		Name:      "eligibility",
		Usage:     "Check whether a wallet may mint right now",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			view, err := newClient(c).Eligibility(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to check eligibility: %w", err)
			}
			return output(c, view, func(w io.Writer) {
				fmt.Fprintf(w, "Wallet:      %s\n", view.Wallet)
				fmt.Fprintf(w, "Whitelist:   %d token(s)\n", view.WhitelistTokenBalance)
				if view.NativeBalance != nil {
					fmt.Fprintf(w, "Balance:     %s SOL\n", view.NativeBalance.String())
				}
				fmt.Fprintf(w, "Decision:    %s\n", describeDecision(view.Decision, view.EvaluatedAt))
			})
		},
	}
}

func attemptsCommand() *cli.Command {
	return &cli.Command{
		Name:      "attempts",
		Usage:     "List a wallet's recorded mint attempts",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   20,
				Usage:   "Maximum number of attempts to show",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of attempts to skip",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			attempts, err := newClient(c).ListAttempts(c.Context, c.Args().First(), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return fmt.Errorf("failed to list attempts: %w", err)
			}
			return output(c, attempts, func(w io.Writer) {
				printAttempts(w, attempts)
			})
		},
	}
}

func mintCommands() *cli.Command {
	return &cli.Command{
		Name:  "mint",
		Usage: "Mint commands",
		Subcommands: []*cli.Command{
			mintStartCommand(),
			mintStatusCommand(),
			mintAwaitCommand(),
			mintLocalCommand(),
		},
	}
}

func mintStartCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start a durable mint through the server",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Poll until the mint finishes",
			},
			&cli.DurationFlag{
				Name:  "poll",
				Value: time.Second,
				Usage: "Status poll interval when waiting",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			cl := newClient(c)
			id, err := cl.StartMint(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to start mint: %w", err)
			}
			if !c.Bool("wait") {
				return output(c, map[string]string{"workflow_id": id}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Mint started: %s\n", id)
				})
			}

			mint, err := waitForMint(c.Context, cl, id, c.Duration("poll"))
			if err != nil {
				return err
			}
			return output(c, mint, func(w io.Writer) {
				printMint(w, mint)
			})
		},
	}
}

func mintStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show a durable mint",
		ArgsUsage: "WORKFLOW_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("workflow id is required")
			}
			mint, err := newClient(c).GetMint(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get mint: %w", err)
			}
			return output(c, mint, func(w io.Writer) {
				printMint(w, mint)
			})
		},
	}
}

func mintAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until the next mint outcome for a wallet arrives",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for an outcome",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			wallet := c.Args().First()

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			if !c.Bool("json") && c.String("jq") == "" {
				fmt.Fprintf(os.Stderr, "Waiting for a mint outcome for %s...\n\n", wallet)
			}
			outcome, err := newClient(c).AwaitOutcome(ctx, wallet)
			if err != nil {
				return fmt.Errorf("failed to await outcome: %w", err)
			}
			return output(c, outcome, func(w io.Writer) {
				printOutcome(w, outcome)
			})
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream the machine's events via SSE",
		ArgsUsage: "[WALLET_ADDRESS]",
		Action: func(c *cli.Context) error {
			wallet := c.Args().First()

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if !c.Bool("json") && c.String("jq") == "" {
				fmt.Fprintf(os.Stderr, "Streaming events... (Ctrl+C to stop)\n\n")
			}

			var outErr error
			err := newClient(c).Stream(ctx, wallet, func(e *minter.Event) bool {
				outErr = output(c, e, func(w io.Writer) {
					printEvent(w, e)
				})
				return outErr == nil
			})
			if outErr != nil {
				return outErr
			}
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("stream failed: %w", err)
			}
			return nil
		},
	}
}

func waitForMint(ctx context.Context, cl *client.Client, id string, poll time.Duration) (*client.Mint, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		mint, err := cl.GetMint(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get mint: %w", err)
		}
		if mint.Status != "running" {
			return mint, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printSnapshot(w io.Writer, s candymachine.MintSnapshot, now time.Time) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Candy Machine %s\n", s.Address)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Price:       %s\n", s.PriceLabel)
	fmt.Fprintf(w, "Items:       %d / %d remaining\n", s.ItemsRemaining, s.ItemsAvailable)
	fmt.Fprintf(w, "Redeemed:    %d\n", s.ItemsRedeemed)
	switch {
	case s.IsSoldOut:
		fmt.Fprintf(w, "Status:      SOLD OUT\n")
	case s.GoLiveDate == nil:
		fmt.Fprintf(w, "Status:      not scheduled\n")
	case s.IsLive(now):
		fmt.Fprintf(w, "Status:      LIVE since %s\n", s.GoLiveDate.Format(time.RFC3339))
	default:
		c := candymachine.CountdownTo(now, *s.GoLiveDate)
		fmt.Fprintf(w, "Status:      goes live in %dd %02dh %02dm %02ds\n", c.Days, c.Hours, c.Minutes, c.Seconds)
	}
	if s.EndCondition != nil && s.EndCondition.Date != nil && !s.HasEnded(now) {
		fmt.Fprintf(w, "Ends:        %s\n", candymachine.EndCountdownLabel(now, *s.EndCondition.Date))
	}
	if wl := s.Whitelist; wl != nil {
		fmt.Fprintf(w, "Whitelist:   %s (presale only: %t)\n", wl.Mint, wl.IsPresaleOnly)
		if wl.DiscountPrice != nil {
			fmt.Fprintf(w, "Discount:    %s\n", wl.DiscountPrice.String())
		}
	}
	fmt.Fprintln(w, rule)
}

func describeDecision(d candymachine.Decision, now time.Time) string {
	switch d.Kind {
	case candymachine.DecisionEligible:
		label := "eligible"
		if d.Price != nil {
			label += " at " + d.Price.String()
		}
		if d.Whitelisted {
			label += " (whitelist)"
		}
		return label
	case candymachine.DecisionPending:
		if d.Until == nil {
			return "pending, not scheduled"
		}
		c := candymachine.CountdownTo(now, *d.Until)
		return fmt.Sprintf("pending, opens in %dd %02dh %02dm %02ds", c.Days, c.Hours, c.Minutes, c.Seconds)
	case candymachine.DecisionSoldOut:
		return "sold out (" + string(d.Reason) + ")"
	}
	return d.Kind.String()
}

func printAttempts(w io.Writer, attempts []*client.Attempt) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SIGNATURE\tOUTCOME\tSTATE\tPRICE\tPOLLS\tSUBMITTED")
	for _, a := range attempts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%d\t%s\n",
			a.Signature,
			a.Outcome,
			a.State,
			a.Price.String(),
			a.PriceUnit,
			a.Polls,
			a.SubmittedAt.Format(time.RFC3339),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nTotal: %d attempts\n", len(attempts))
}

func printMint(w io.Writer, mint *client.Mint) {
	fmt.Fprintf(w, "Workflow:    %s\n", mint.WorkflowID)
	fmt.Fprintf(w, "Status:      %s\n", mint.Status)
	r := mint.Result
	if r == nil {
		return
	}
	if r.Signature != "" {
		fmt.Fprintf(w, "Signature:   %s\n", r.Signature)
	}
	if r.PolicyViolation != "" {
		fmt.Fprintf(w, "Refused:     %s\n", r.PolicyViolation)
	}
	if r.Error != nil {
		fmt.Fprintf(w, "Error:       %s\n", *r.Error)
	}
	if r.Outcome != nil {
		printOutcome(w, r.Outcome)
	}
}

func printOutcome(w io.Writer, o *minter.Outcome) {
	mark := "✗"
	if o.Kind == minter.OutcomeSuccess {
		mark = "✓"
	}
	fmt.Fprintf(w, "%s %s: %s\n", mark, o.Kind, o.Message)
	if o.Signature != "" {
		fmt.Fprintf(w, "  Signature: %s\n", o.Signature)
	}
	if o.Code != nil {
		fmt.Fprintf(w, "  Code:      %d (%s)\n", *o.Code, o.Cause)
	}
	if o.ExplorerURL != "" {
		fmt.Fprintf(w, "  Explorer:  %s\n", o.ExplorerURL)
	}
	if o.Snapshot != nil {
		fmt.Fprintf(w, "  Remaining: %d / %d\n", o.Snapshot.ItemsRemaining, o.Snapshot.ItemsAvailable)
	}
}

func printEvent(w io.Writer, e *minter.Event) {
	at := e.EmittedAt.Format(time.RFC3339)
	switch e.Type {
	case minter.EventSnapshotUpdated:
		fmt.Fprintf(w, "[%s] snapshot: %d / %d remaining, %s\n", at,
			e.Snapshot.ItemsRemaining, e.Snapshot.ItemsAvailable, e.Snapshot.PriceLabel)
	case minter.EventEligibilityUpdated:
		fmt.Fprintf(w, "[%s] eligibility %s: %s\n", at, walletLabel(e.Wallet), describeDecision(*e.Decision, e.EmittedAt))
	case minter.EventMintOutcome:
		fmt.Fprintf(w, "[%s] outcome %s: %s (%s)\n", at, walletLabel(e.Wallet), e.Outcome.Kind, e.Outcome.Message)
	}
}

func walletLabel(wallet string) string {
	if wallet == "" {
		return "anonymous"
	}
	return wallet
}
