package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

// defaultOwner is used when neither --owner nor SANGAM_OWNER is set.
const defaultOwner = "local"

var (
	noColor bool
	owner   string
)

var rootCmd = &cobra.Command{
	Use:           "sangam",
	Short:         "Ask questions about your documents, transcripts, and tables",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	envOwner := os.Getenv("SANGAM_OWNER")
	if envOwner == "" {
		envOwner = defaultOwner
	}
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringVar(&owner, "owner", envOwner, "owner id to act for")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError("%v", err)
		stop()
		os.Exit(1)
	}
}
