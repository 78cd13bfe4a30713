package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/warp/payout-engine/config"
	"github.com/warp/payout-engine/payroll"
	"github.com/warp/payout-engine/store/sqlite"
)

func runCmd() *cobra.Command {
	var year, month int
	var currency string
	var includeInactive bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run or refresh payroll for a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, _ *config.Config, _ *sqlite.Store, svc *payroll.Service) error {
				result, err := svc.RunPayroll(ctx, payroll.RunRequest{
					Year:            year,
					Month:           time.Month(month),
					Currency:        currency,
					IncludeInactive: includeInactive,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(result)
				}
				printRun(result)
				return nil
			})
		},
	}
	now := time.Now()
	cmd.Flags().IntVar(&year, "year", now.Year(), "year")
	cmd.Flags().IntVar(&month, "month", int(now.Month()), "month (1-12)")
	cmd.Flags().StringVar(&currency, "run-currency", "", "currency label for this run (defaults to --currency)")
	cmd.Flags().BoolVar(&includeInactive, "include-inactive", false, "report issues for inactive payees")
	return cmd
}

func printRun(result *payroll.RunResult) {
	run := result.Run
	verb := "refreshed"
	if result.Created {
		verb = "created"
	}
	fmt.Printf("Run %s %04d-%02d (%s) %s\n", run.ID, run.Year, int(run.Month), run.Currency, verb)

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Pay Date", "Code", "Working Name", "Frequency", "Gross", "Net", "Status", "ID"})
	for _, p := range result.Payouts {
		tw.AppendRow(table.Row{
			p.PayDate.Format(payroll.DateLayout), p.Code, p.WorkingName, p.Frequency.Title(),
			p.Gross.StringFixed(payroll.MoneyPlaces), p.Amount.StringFixed(payroll.MoneyPlaces),
			string(p.Status), p.ID,
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "Total", "", run.Summary.TotalPayout.StringFixed(payroll.MoneyPlaces), "", ""})
	tw.Render()

	if len(result.Issues) > 0 {
		iw := table.NewWriter()
		iw.SetOutputMirror(os.Stdout)
		iw.AppendHeader(table.Row{"Row", "Code", "Severity", "Issue"})
		for _, i := range result.Issues {
			iw.AppendRow(table.Row{i.Row, i.Code, string(i.Severity), i.Message})
		}
		iw.Render()
	}
}

func runsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List payroll runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, _ *config.Config, _ *sqlite.Store, svc *payroll.Service) error {
				runs, err := svc.Store.ListRuns(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Period", "Currency", "Models", "Total", "Updated"})
				for _, r := range runs {
					tw.AppendRow(table.Row{
						r.ID, fmt.Sprintf("%04d-%02d", r.Year, int(r.Month)), r.Currency,
						r.Summary.ModelsPaid, r.Summary.TotalPayout.StringFixed(payroll.MoneyPlaces),
						r.UpdatedAt.Format(time.RFC3339),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func markPaidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-paid <payout-id>",
		Short: "Mark a payout paid and realize its advance deductions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, _ *config.Config, _ *sqlite.Store, svc *payroll.Service) error {
				p, err := svc.MarkPayoutPaid(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("payout %s (%s, %s) marked paid: net %s\n",
					p.ID, p.Code, p.PayDate.Format(payroll.DateLayout), p.Amount.StringFixed(payroll.MoneyPlaces))
				return nil
			})
		},
	}
}

func repayCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "repay <advance-id> <amount>",
		Short: "Record a manual repayment against an advance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := payroll.ParseMoney(args[1])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(ctx context.Context, _ *config.Config, _ *sqlite.Store, svc *payroll.Service) error {
				var n *string
				if notes != "" {
					n = &notes
				}
				rp, err := svc.RecordManualRepayment(ctx, args[0], amount, n)
				if err != nil {
					return err
				}
				adv, err := svc.Store.GetAdvance(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"repayment": rp, "advance": adv})
				}
				fmt.Printf("recorded %s against advance %s: remaining %s (%s)\n",
					rp.Amount.StringFixed(payroll.MoneyPlaces), adv.ID,
					adv.AmountRemaining.StringFixed(payroll.MoneyPlaces), adv.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
