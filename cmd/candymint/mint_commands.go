package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/brojonat/candymint/service/config"
	"github.com/brojonat/candymint/service/minter"
	natspkg "github.com/brojonat/candymint/service/nats"
	"github.com/brojonat/candymint/service/solana"
	"github.com/urfave/cli/v2"
)

// mintLocalCommand mints in-process with a local keypair, without the
// server or Temporal.
func mintLocalCommand() *cli.Command {
	return &cli.Command{
		Name:  "local",
		Usage: "Mint one item in-process with a local keypair",
		Description: `Reads the candy machine, evaluates the keypair's wallet, submits the
mint transaction and follows it until it resolves.

Connection settings come from the same environment as the server:
SOLANA_RPC_URL, SOLANA_NETWORK, CANDY_MACHINE_ID, CANDY_MACHINE_PROGRAM_ID,
TX_TIMEOUT, CONFIRM_POLL_INTERVAL and STATUS_QUERY_ATTEMPTS.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "keypair",
				Aliases: []string{"k"},
				Usage:   "Path to a solana-keygen keypair file",
				EnvVars: []string{"MINTER_KEYPAIR_PATH"},
			},
			&cli.BoolFlag{
				Name:  "publish",
				Usage: "Publish snapshot and outcome events to NATS",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Only show the decision, do not submit",
			},
		},
		Action: func(c *cli.Context) error {
			keypairPath := c.String("keypair")
			if keypairPath == "" {
				return fmt.Errorf("keypair is required (set MINTER_KEYPAIR_PATH or use --keypair)")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger := cliLogger()
			ledger, err := solana.Dial(cfg.SolanaRPCURL, nil, logger)
			if err != nil {
				return fmt.Errorf("failed to create solana client: %w", err)
			}
			wallet, err := solana.LoadKeypairWallet(keypairPath)
			if err != nil {
				return err
			}
			payer, _ := wallet.PublicIdentity()

			var publisher minter.Publisher
			if c.Bool("publish") {
				p, err := natspkg.NewPublisher(c.String("nats-url"), nil, logger)
				if err != nil {
					return err
				}
				defer p.Close()
				publisher = p
			}

			refresher := minter.NewRefresher(ledger, cfg.CandyMachineID, cfg.SolanaNetwork, cfg.SnapshotConfig(), publisher, nil, nil, logger)
			view, err := refresher.Refresh(c.Context, &payer)
			if err != nil {
				return fmt.Errorf("failed to read candy machine: %w", err)
			}

			quiet := c.Bool("json") || c.String("jq") != ""
			if !quiet {
				printSnapshot(os.Stderr, view.Snapshot, view.EvaluatedAt)
				fmt.Fprintf(os.Stderr, "Wallet:      %s\n", payer)
				fmt.Fprintf(os.Stderr, "Decision:    %s\n\n", describeDecision(view.Decision, view.EvaluatedAt))
			}
			if c.Bool("dry-run") {
				return output(c, view, func(io.Writer) {})
			}

			orchestrator := newLocalOrchestrator(cfg, ledger, wallet, publisher, logger)
			outcome, err := orchestrator.AttemptMint(c.Context, view.Caller(), view.Snapshot)
			var pv *minter.PolicyViolationError
			if errors.As(err, &pv) {
				return fmt.Errorf("mint refused: %s", pv.UserMessage())
			}
			if err != nil {
				return err
			}

			if err := output(c, outcome, func(w io.Writer) {
				printOutcome(w, &outcome)
			}); err != nil {
				return err
			}
			if outcome.Kind != minter.OutcomeSuccess {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func newLocalOrchestrator(cfg *config.Config, ledger *solana.Client, wallet *solana.KeypairWallet, publisher minter.Publisher, logger *slog.Logger) *minter.Orchestrator {
	return minter.NewOrchestrator(
		ledger,
		wallet,
		solana.NewMintTransactionBuilder(ledger, cfg.ProgramID),
		publisher,
		nil,
		minter.Options{Network: cfg.SolanaNetwork, Tracker: cfg.TrackerOptions()},
		nil,
		logger,
	)
}
