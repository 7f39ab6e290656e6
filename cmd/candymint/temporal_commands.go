package main

import (
	"fmt"
	"io"
	"time"

	"github.com/brojonat/candymint/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

func scheduleRefreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule-refresh",
		Usage: "Create or update the snapshot refresh schedule of --machine",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "How often the snapshot is refreshed",
				Value: 30 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			machine, err := requireMachine(c)
			if err != nil {
				return err
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			interval := c.Duration("interval")
			if err := tc.UpsertRefreshSchedule(c.Context, machine, interval); err != nil {
				return err
			}
			return output(c, map[string]interface{}{
				"schedule_id": temporal.ScheduleID(machine),
				"interval":    interval.String(),
			}, func(w io.Writer) {
				fmt.Fprintf(w, "Scheduled %s every %s\n", temporal.ScheduleID(machine), interval)
			})
		},
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:    "describe-schedule",
		Usage:   "Describe the snapshot refresh schedule of --machine",
		Aliases: []string{"desc"},
		Action: func(c *cli.Context) error {
			machine, err := requireMachine(c)
			if err != nil {
				return err
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			id := temporal.ScheduleID(machine)
			desc, err := tc.SDKClient().ScheduleClient().GetHandle(c.Context, id).Describe(c.Context)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			var intervals []string
			for _, interval := range desc.Schedule.Spec.Intervals {
				intervals = append(intervals, interval.Every.String())
			}
			var lastAction *time.Time
			if n := len(desc.Info.RecentActions); n > 0 {
				t := desc.Info.RecentActions[n-1].ActualTime
				lastAction = &t
			}
			summary := map[string]interface{}{
				"schedule_id":    id,
				"paused":         desc.Schedule.State.Paused,
				"note":           desc.Schedule.State.Note,
				"intervals":      intervals,
				"recent_actions": len(desc.Info.RecentActions),
				"last_action":    lastAction,
			}

			return output(c, summary, func(w io.Writer) {
				fmt.Fprintf(w, "Schedule ID:    %s\n", id)
				fmt.Fprintf(w, "Paused:         %v\n", desc.Schedule.State.Paused)
				if desc.Schedule.State.Note != "" {
					fmt.Fprintf(w, "Note:           %s\n", desc.Schedule.State.Note)
				}
				if wa, ok := desc.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
					fmt.Fprintf(w, "Workflow:       %v\n", wa.Workflow)
					fmt.Fprintf(w, "Task Queue:     %s\n", wa.TaskQueue)
				}
				for i, every := range intervals {
					fmt.Fprintf(w, "Interval %d:     every %s\n", i+1, every)
				}
				fmt.Fprintf(w, "Recent Actions: %d\n", len(desc.Info.RecentActions))
				if lastAction != nil {
					fmt.Fprintf(w, "Last Action:    %s\n", lastAction.Format(time.RFC3339))
				}
			})
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-schedule",
		Usage: "Delete the snapshot refresh schedule of --machine",
		Action: func(c *cli.Context) error {
			machine, err := requireMachine(c)
			if err != nil {
				return err
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteRefreshSchedule(c.Context, machine); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Deleted %s\n", temporal.ScheduleID(machine))
			return nil
		},
	}
}

// startMintWorkflowCommand starts a durable mint directly on Temporal,
// bypassing the HTTP server.
func startMintWorkflowCommand() *cli.Command {
	return &cli.Command{
		Name:      "start-mint",
		Usage:     "Start a durable mint workflow for a wallet",
		ArgsUsage: "<wallet_address>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Wait for the workflow to finish and print its result",
			},
			&cli.DurationFlag{
				Name:  "tx-timeout",
				Usage: "Confirmation deadline (0 uses the worker default)",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "Signature status poll interval (0 uses the worker default)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			machine, err := requireMachine(c)
			if err != nil {
				return err
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			input := temporal.MintWorkflowInput{
				Wallet:       c.Args().First(),
				PollInterval: c.Duration("poll-interval"),
				Timeout:      c.Duration("tx-timeout"),
			}
			workflowID, err := tc.StartMint(c.Context, machine, input)
			if err != nil {
				return err
			}
			if !c.Bool("wait") {
				return output(c, map[string]string{"workflow_id": workflowID}, func(w io.Writer) {
					fmt.Fprintf(w, "Started %s\n", workflowID)
				})
			}

			result, err := tc.AwaitMint(c.Context, workflowID)
			if err != nil {
				return err
			}
			return output(c, result, func(w io.Writer) {
				fmt.Fprintf(w, "Workflow:    %s\n", workflowID)
				if result.Signature != "" {
					fmt.Fprintf(w, "Signature:   %s\n", result.Signature)
				}
				if result.PolicyViolation != "" {
					fmt.Fprintf(w, "Refused:     %s\n", result.PolicyViolation)
				}
				if result.Error != nil {
					fmt.Fprintf(w, "Error:       %s\n", *result.Error)
				}
				if result.Outcome != nil {
					printOutcome(w, result.Outcome)
				}
			})
		},
	}
}

func requireMachine(c *cli.Context) (string, error) {
	machine := c.String("machine")
	if machine == "" {
		return "", fmt.Errorf("machine is required (set CANDY_MACHINE_ID or use --machine)")
	}
	return machine, nil
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		cliLogger(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}
	return tc, nil
}
