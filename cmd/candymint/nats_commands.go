package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/candymint/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// watchCommand tails the machine's events straight from JetStream.
func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Watch a machine's events on NATS JetStream",
		ArgsUsage: "[wallet_address]",
		Description: `Connects to NATS and prints every event published for the machine given
by --machine. Events are published to candymint.{machine}.{event_type}.

With a wallet address, eligibility and outcome events of other wallets are
skipped. Snapshot events are always shown.

Example:
  candymint --machine <address> nats watch --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay every retained event instead of only new ones",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Stop after this long (0 waits until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			machine := c.String("machine")
			subject := natspkg.StreamSubjects
			if machine != "" {
				subject = natspkg.MachineSubjects(machine)
			}
			wallet := c.Args().First()

			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout := c.Duration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			deliver := jetstream.DeliverNewPolicy
			if c.Bool("all") {
				deliver = jetstream.DeliverAllPolicy
			}
			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: deliver,
			})
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			quiet := c.Bool("json") || c.String("jq") != ""
			if !quiet {
				fmt.Fprintf(os.Stderr, "Watching %s (Ctrl-C to exit)\n\n", subject)
			}

			msgs := make(chan jetstream.Msg, 10)
			consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
				msgs <- msg
			})
			if err != nil {
				return fmt.Errorf("failed to consume events: %w", err)
			}
			defer consumeCtx.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case msg := <-msgs:
					event, err := natspkg.DecodeEvent(msg.Data())
					_ = msg.Ack()
					if err != nil {
						fmt.Fprintf(os.Stderr, "skipping event on %s: %v\n", msg.Subject(), err)
						continue
					}
					if wallet != "" && event.Wallet != "" && event.Wallet != wallet {
						continue
					}
					if err := output(c, event, func(w io.Writer) {
						printEvent(w, event)
					}); err != nil {
						return err
					}
				}
			}
		},
	}
}

// inspectStreamCommand shows the state of the events stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Show the events stream configuration and state",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
			defer cancel()

			stream, err := js.Stream(ctx, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream %s: %w", natspkg.StreamName, err)
			}
			info, err := stream.Info(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			summary := map[string]interface{}{
				"name":      info.Config.Name,
				"subjects":  info.Config.Subjects,
				"retention": info.Config.MaxAge.String(),
				"storage":   info.Config.Storage.String(),
				"messages":  info.State.Msgs,
				"bytes":     info.State.Bytes,
				"first_seq": info.State.FirstSeq,
				"last_seq":  info.State.LastSeq,
				"consumers": info.State.Consumers,
				"created":   info.Created,
			}
			return output(c, summary, func(w io.Writer) {
				fmt.Fprintf(w, "Stream:      %s\n", info.Config.Name)
				fmt.Fprintf(w, "Subjects:    %v\n", info.Config.Subjects)
				fmt.Fprintf(w, "Retention:   %s\n", info.Config.MaxAge)
				fmt.Fprintf(w, "Storage:     %s\n", info.Config.Storage)
				fmt.Fprintf(w, "Messages:    %d (%d bytes)\n", info.State.Msgs, info.State.Bytes)
				fmt.Fprintf(w, "Sequence:    %d .. %d\n", info.State.FirstSeq, info.State.LastSeq)
				fmt.Fprintf(w, "Consumers:   %d\n", info.State.Consumers)
				fmt.Fprintf(w, "Created:     %s\n", info.Created.Format(time.RFC3339))
			})
		},
	}
}
