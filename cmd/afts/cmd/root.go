package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/afts/config"
)

var rootCmd = &cobra.Command{
	Use:   "afts",
	Short: "Bar-driven FX trading engine with prop-firm risk controls",
	Long: `afts runs one trading pipeline in three modes:

  sim    deterministic backtest over historical bars
  train  backtest with RL exploration, writing transitions for trainers
  live   the same pipeline against OANDA or a paper broker

Every run is configured by a profile: profiles/<name>.yaml plus the
sub-config files it references. AFTS_ environment variables override
any key, and a .env file in the working directory is loaded first.

A run that ends on a hard stop exits with status 1.`,
	SilenceUsage: true,
}

var (
	profileName string
	profilePath string
	logLevel    string
	modeFlag    string
	envFile     string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&profileName, "profile", "p", "ftmo_orb", "profile name, resolved against --profile-path")
	pf.StringVar(&profilePath, "profile-path", "./profiles", "directory holding profiles")
	pf.StringVar(&logLevel, "log-level", "", "override logging.level")
	pf.StringVar(&modeFlag, "mode", "", "override the profile mode (sim, train, live)")
	pf.StringVar(&envFile, "env", ".env", "dotenv file loaded before the profile")
}

// loadProfile resolves the profile named by the global flags and applies
// the command line overrides. mode, when set, wins over --mode.
func loadProfile(mode string) (*config.Profile, error) {
	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}
	p, err := config.Load(config.ProfilePath(profilePath, profileName))
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", profileName, err)
	}
	if logLevel != "" {
		p.Logging.Level = logLevel
	}
	switch {
	case mode != "":
		p.Mode = mode
	case modeFlag != "":
		p.Mode = modeFlag
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
