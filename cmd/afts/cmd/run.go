package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/afts/config"
	"github.com/rustyeddy/afts/execution"
	"github.com/rustyeddy/afts/internal/logger"
	"github.com/rustyeddy/afts/journal"
	"github.com/rustyeddy/afts/rl"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the profile in its configured mode",
	Long: `Run the pipeline in the mode named by the profile, or by --mode.

Example:
  afts run --profile ftmo_orb --mode sim`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, "")
	},
}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Backtest the profile over historical bars",
	Long: `Replay the profile's data source through the pipeline with the
deterministic fill simulator. Results go to <journal.dir>/<run-id>/.

Example:
  afts sim --profile ftmo_orb`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, config.ModeSim)
	},
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Backtest with RL exploration and write transitions",
	Long: `Run exploration rollouts over historical bars. Every bar's
observation, agent actions and equity-delta reward are written to
transitions.parquet in the run directory for an external trainer.

Example:
  afts train --profile ftmo_orb --epsilon 0.2`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, config.ModeTrain)
	},
}

var trainEpsilon float64

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(simCmd)
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().Float64Var(&trainEpsilon, "epsilon", 0.1, "exploration rate for agents configured without one")
}

func runMode(cmd *cobra.Command, mode string) error {
	p, err := loadProfile(mode)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch p.Mode {
	case config.ModeLive:
		return runLive(ctx, cmd, p)
	case config.ModeTrain:
		explore(p, trainEpsilon)
		return runBacktest(ctx, cmd, p, &rl.Rollout{})
	default:
		return runBacktest(ctx, cmd, p, nil)
	}
}

// explore turns on the rl hook and gives agents without an exploration
// rate the default one.
func explore(p *config.Profile, eps float64) {
	p.RL.Enabled = true
	if p.RL.RiskAgent.Epsilon == 0 {
		p.RL.RiskAgent.Epsilon = eps
	}
	if p.RL.ExitAgent.Epsilon == 0 {
		p.RL.ExitAgent.Epsilon = eps
	}
}

// runBacktest drives a sim or train run. A non-nil rollout records
// transitions.
func runBacktest(ctx context.Context, cmd *cobra.Command, p *config.Profile, rollout *rl.Rollout) error {
	lg := logger.New(p.Logging)
	src, err := openHistory(ctx, p, lg.Logrus())
	if err != nil {
		return fmt.Errorf("open data: %w", err)
	}
	defer src.Close()

	s, err := newSession(p, lg)
	if err != nil {
		return err
	}
	log := s.log
	loop, err := buildLoop(p, s.sink, rollout, log)
	if err != nil {
		s.finish(execution.Result{})
		return err
	}
	log.WithField("mode", p.Mode).Info("run started")

	res, runErr := loop.Run(ctx, src)
	if rollout != nil {
		steps := rollout.Finish(res.FinalAccount.Equity)
		if err := journal.WriteParquet(s.dir, journal.TransitionsFile, steps); err != nil {
			log.WithError(err).Error("write transitions")
		}
	}
	return settle(cmd, s, res, runErr)
}

// settle closes the session, prints the summary and turns a hard stop into
// an error so the process exits non-zero.
func settle(cmd *cobra.Command, s *session, res execution.Result, runErr error) error {
	if err := s.finish(res); err != nil {
		s.log.WithError(err).Error("close run outputs")
	}
	printResult(cmd.OutOrStdout(), s.runID, s.dir.Path(), res)
	if runErr != nil {
		return runErr
	}
	if res.HardStop {
		return &execution.HardStopError{Reason: res.Reason}
	}
	return nil
}
