package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/afts/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show, validate or generate profiles",
	Long: `Manage run profiles.

Subcommands:
  show     - Print the resolved profile with overrides applied
  validate - Load and validate the profile
  init     - Write a profile holding every default

Examples:
  afts config show --profile ftmo_orb
  afts config init -o profiles/mine.yaml`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved profile",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the profile",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default profile",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configInitOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "profile.yaml", "output profile path")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	p, err := loadProfile("")
	if err != nil {
		return err
	}
	b, err := yaml.Marshal(p.Redacted())
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(b)
	return err
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	p, err := loadProfile("")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "profile %s is valid (mode %s, symbol %s)\n", p.Name, p.Mode, p.Symbol)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if err := config.Default().Write(configInitOutput); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configInitOutput)
	return nil
}
