package main

import (
	"context"
	"fmt"
	"strconv"

	"feeindex/internal/bootstrap"
	"feeindex/internal/domain"

	"github.com/spf13/cobra"
)

var (
	rangeStart  int64
	rangeEnd    int64
	resetCursor bool
)

var feeCmd = &cobra.Command{
	Use:   "fee <tx-hash>",
	Short: "Price one pool transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			fee, err := app.Service.FeeByHash(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"tx_hash": fee.TxHash,
				"fee":     fee.Amount,
				"status":  fee.Status,
			})
		})
	},
}

var rangeCmd = &cobra.Command{
	Use:   "range",
	Short: "Price pool transactions between two unix timestamps",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rangeEnd < rangeStart {
			return fmt.Errorf("--end %d is before --start %d", rangeEnd, rangeStart)
		}
		action, err := parseAction()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			result, err := app.Service.FeesByTimeRange(ctx, domain.RangeQuery{
				Start:  rangeStart,
				End:    rangeEnd,
				Action: action,
			})
			if err != nil {
				return err
			}
			fees := make([]map[string]any, 0, len(result.Fees))
			for _, fee := range result.Fees {
				fees = append(fees, map[string]any{"tx_hash": fee.TxHash, "fee": fee.Amount})
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"fees":           fees,
				"last_timestamp": result.LastTimestamp,
				"outcome":        result.Outcome,
				"degraded":       result.Degraded,
				"pages":          result.Pages,
			})
		})
	},
}

var rateCmd = &cobra.Command{
	Use:   "rate <unix-timestamp>",
	Short: "Show the exchange rate closest to a timestamp",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || ts < 0 {
			return fmt.Errorf("invalid timestamp %q", args[0])
		}
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			rate, status, err := app.Oracle.Rate(ctx, ts)
			if err != nil {
				return err
			}
			base, quote := app.Oracle.Pair()
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"timestamp": ts,
				"base":      base,
				"quote":     quote,
				"rate":      rate,
				"status":    status,
			})
		})
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run the historic scanner once in this process",
	RunE: func(cmd *cobra.Command, args []string) error {
		action, err := parseAction()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			if action == "" {
				action = app.Config.ActionType
			}
			report, err := app.Scanner.Run(ctx, action)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		})
	},
}

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Show or reset the scanner cursor",
	RunE: func(cmd *cobra.Command, args []string) error {
		action, err := parseAction()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			if action == "" {
				action = app.Config.ActionType
			}
			if resetCursor {
				if err := app.Scanner.ResetCursor(ctx, action); err != nil {
					return err
				}
			}
			cursor, err := app.Scanner.Cursor(ctx, action)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"action": action, "cursor": cursor})
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "feectl %s (commit %s, built %s)\n", version, commit, buildTime)
	},
}

func init() {
	rangeCmd.Flags().Int64Var(&rangeStart, "start", 0, "start unix timestamp")
	rangeCmd.Flags().Int64Var(&rangeEnd, "end", 0, "end unix timestamp")
	_ = rangeCmd.MarkFlagRequired("start")
	_ = rangeCmd.MarkFlagRequired("end")
	cursorCmd.Flags().BoolVar(&resetCursor, "reset", false, "move the cursor back to the start block")

	rootCmd.AddCommand(feeCmd, rangeCmd, rateCmd, scanCmd, cursorCmd, versionCmd)
}

// parseAction returns "" when --action is unset so callers fall back to the
// configured action.
func parseAction() (domain.ActionType, error) {
	if actionFlag == "" {
		return "", nil
	}
	action, ok := domain.ParseActionType(actionFlag)
	if !ok {
		return "", fmt.Errorf("unknown action %q", actionFlag)
	}
	return action, nil
}
