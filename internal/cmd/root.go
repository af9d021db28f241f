package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/gauntlet/internal/config"
)

// viperKey is the flag annotation naming the configuration key a flag
// overrides.
const viperKey = "viper_key"

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gauntlet",
		Short: "Dependency-aware parallel test execution engine",
		Long: `Gauntlet runs test plans through a scheduler that honours dependencies,
parallel constraints, keyed exclusion and scoped setup/teardown hooks,
and reports the outcome as text, JSON or JUnit XML.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initConfig,
	}

	// Global flags
	root.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/gauntlet/gauntlet.yaml)")

	root.AddCommand(newRunCmd(), newPlanCmd(), newConfigCmd(), newVersionCmd())
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

func initConfig(cmd *cobra.Command, _ []string) error {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("gauntlet")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("GAUNTLET")
	// Replace dots with underscores for nested keys in env vars
	// e.g., GAUNTLET_SCHEDULER_MAX_PARALLELISM for scheduler.max_parallelism
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine unless it was asked for explicitly
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return bindFlags(cmd.Flags())
}

// bindFlags lets every annotated flag override its configuration key.
func bindFlags(flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[viperKey]
		if len(keys) == 0 || err != nil {
			return
		}
		err = viper.BindPFlag(keys[0], f)
	})
	return err
}

// configFlag marks flag name as an override of the configuration key.
func configFlag(cmd *cobra.Command, name, key string) {
	_ = cmd.Flags().SetAnnotation(name, viperKey, []string{key})
}
