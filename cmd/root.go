package cmd

import (
	"github.com/spf13/cobra"

	"iris/internal/logger"
)

var (
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "iris",
	Short: "Iris - remote image processing over framed stream sockets",
	Long: `Iris hosts image-processing ops behind a low-latency framed message
protocol. It ships a processing server and client, a process pool for
batch runs, and a reconnecting publish/subscribe bridge.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel("debug")
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(prunCmd)
	rootCmd.AddCommand(prunWorkerCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(statsCmd)
}
