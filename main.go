package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"molgen/config"
	"molgen/train"
)

var (
	configPath string
	resume     bool
)

var rootCmd = &cobra.Command{
	Use:   "molgen",
	Short: "Policy-gradient training for fragment-based structure generation",
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train with the parallel worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		exp, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := notifyContext()
		defer stop()
		return exp.RunParallel(ctx)
	},
}

var serialCmd = &cobra.Command{
	Use:   "serial",
	Short: "Train with the single-environment loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		exp, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := notifyContext()
		defer stop()
		return exp.RunSerial(ctx)
	},
}

var initCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Default()
		if err != nil {
			return err
		}
		if err := c.Save(configPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", configPath)
		return nil
	},
}

// setup loads the configuration and builds the experiment
func setup() (*train.Experiment, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return train.New(cfg, resume)
}

// notifyContext returns a context cancelled by SIGINT or SIGTERM, so a
// run saves its artifacts before exiting.
func notifyContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt,
		syscall.SIGTERM)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		"config.json", "path to the configuration file")
	trainCmd.Flags().BoolVar(&resume, "resume", false,
		"resume from the configured checkpoint")
	serialCmd.Flags().BoolVar(&resume, "resume", false,
		"resume from the configured checkpoint")

	rootCmd.AddCommand(trainCmd, serialCmd, initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
