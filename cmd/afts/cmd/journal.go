package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/afts/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the run journal",
	Long: `Query runs and trades recorded in the SQLite journal.

Subcommands:
  run    - Show a run and its trades
  trade  - Show one trade of a run
  day    - List trades closed on a UTC day

Examples:
  afts journal run <run-id>
  afts journal trade <run-id> <trade-id>
  afts journal day 2024-01-15`,
}

var journalRunCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Show a run and its trades",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalRun,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <run-id> <trade-id>",
	Short: "Show one trade",
	Args:  cobra.ExactArgs(2),
	RunE:  runJournalTrade,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalRunCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalDayCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d",
		filepath.Join(journal.DefaultConfig().Dir, SQLiteFile), "path to the SQLite journal")
}

func openJournal() (*journal.SQLite, error) {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalRun(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	r, err := j.GetRun(args[0])
	if err != nil {
		return err
	}
	trades, err := j.ListTrades(r.RunID)
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "run %s  %s %s %s\n", r.RunID, r.Mode, r.Profile, r.Symbol)
	fmt.Fprintf(w, "  %s .. %s  bars %d  trades %d\n", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339), r.Bars, r.Trades)
	fmt.Fprintf(w, "  balance %.2f -> %.2f  reason %s  hard stop %v\n\n", r.StartBalance, r.EndBalance, r.Reason, r.HardStop)
	return writeTrades(w, trades)
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	t, err := j.GetTrade(args[0], args[1])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	return writeTrades(cmd.OutOrStdout(), []journal.TradeRecord{t})
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	day, err := time.Parse("2006-01-02", args[0])
	if err != nil {
		return fmt.Errorf("invalid date %q: use YYYY-MM-DD", args[0])
	}
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	trades, err := j.ListTradesClosedBetween(day, day.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}
	if len(trades) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no trades closed on %s\n", args[0])
		return nil
	}
	return writeTrades(cmd.OutOrStdout(), trades)
}

func writeTrades(w io.Writer, trades []journal.TradeRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRADE\tSYMBOL\tSIDE\tQTY\tENTRY\tEXIT\tCLOSED\tPNL\tREASON")
	var total float64
	for _, t := range trades {
		total += t.RealizedPnL
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f\t%.5f\t%.5f\t%s\t%.2f\t%s\n",
			t.TradeID, t.Symbol, t.Side, t.Qty, t.EntryPrice, t.ExitPrice,
			t.CloseTime.Format(time.RFC3339), t.RealizedPnL, t.Reason)
	}
	fmt.Fprintf(tw, "\t\t\t\t\t\t\t%.2f\t\n", total)
	return tw.Flush()
}
