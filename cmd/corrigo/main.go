package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "corrigo",
	Short: "corrigo - submission lifecycle and retention engine",
	Long: `corrigo tracks graded submissions: admission with a one-pending-per-task
rule, asynchronous grading through an execution backend, crash recovery,
retention pruning, and replay of stored inputs.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
