// Command walksim runs the long walk: a road of autonomous walkers who talk,
// overhear, fall in and out of favour and face crises together.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/config"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "walksim",
		Short:        "Social simulation of walkers on a long road",
		SilenceUsage: true,
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().String("config", "walk.yaml", "path to the walk configuration")
	root.AddCommand(runCmd())
	root.AddCommand(stepCmd())
	root.AddCommand(versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print walksim version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}

// configFrom loads the configuration named by the --config flag.
func configFrom(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return loadConfig(path, cmd.Flags().Changed("config"))
}
