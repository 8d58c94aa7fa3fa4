package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/afts/config"
	"github.com/rustyeddy/afts/feed"
	"github.com/rustyeddy/afts/internal/logger"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Download historical bars to CSV",
	Long: `Fetch bars for the profile's symbol and write them as CSV that a
csv data source can replay.

Subcommands:
  oanda  - Page OANDA candles for a range
  dukas  - Aggregate Dukascopy ticks into bars, caching hour files

Examples:
  afts data oanda --from 2024-01-01 --to 2024-02-01 --timeframe M15 --out data/EUR_USD_M15.csv
  afts data dukas --from 2024-01-01 --to 2024-01-08 --dir data/dukas --out data/EUR_USD_M1.csv`,
}

var dataOandaCmd = &cobra.Command{
	Use:   "oanda",
	Short: "Download OANDA candles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runData(cmd, config.SourceOANDA)
	},
}

var dataDukasCmd = &cobra.Command{
	Use:   "dukas",
	Short: "Build bars from Dukascopy ticks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runData(cmd, config.SourceDukas)
	},
}

var (
	dataFrom      string
	dataTo        string
	dataTimeframe string
	dataDir       string
	dataOut       string
)

func init() {
	rootCmd.AddCommand(dataCmd)
	dataCmd.AddCommand(dataOandaCmd)
	dataCmd.AddCommand(dataDukasCmd)

	pf := dataCmd.PersistentFlags()
	pf.StringVar(&dataFrom, "from", "", "range start, RFC3339 or YYYY-MM-DD (required)")
	pf.StringVar(&dataTo, "to", "", "range end, exclusive (required)")
	pf.StringVar(&dataTimeframe, "timeframe", "", "bar timeframe, defaults to data.timeframe")
	pf.StringVar(&dataOut, "out", "", "output CSV path (required)")
	dataDukasCmd.Flags().StringVar(&dataDir, "dir", "", "tick cache directory, defaults to data.dir")
	dataCmd.MarkPersistentFlagRequired("from")
	dataCmd.MarkPersistentFlagRequired("to")
	dataCmd.MarkPersistentFlagRequired("out")
}

func runData(cmd *cobra.Command, source string) error {
	p, err := loadProfile("")
	if err != nil {
		return err
	}
	p.Data.Source = source
	p.Data.From, p.Data.To = dataFrom, dataTo
	if dataTimeframe != "" {
		p.Data.Timeframe = dataTimeframe
	}
	if dataDir != "" {
		p.Data.Dir = dataDir
	}
	if err := p.Validate(); err != nil {
		return err
	}

	src, err := openHistory(cmd.Context(), p, logger.New(p.Logging).Logrus())
	if err != nil {
		return err
	}
	defer src.Close()

	f, err := os.Create(dataOut)
	if err != nil {
		return err
	}
	n, err := feed.WriteCSV(cmd.Context(), f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", dataOut, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d %s bars to %s\n", n, p.Symbol, dataOut)
	return nil
}
