// Command tasking runs one hierarchical agent task to completion: an
// orchestrator agent decomposes it into sub-tasks as needed, an executor
// agent drives each leaf via tool calls, and the tree scheduler retries or
// cancels as invariants require, following internal/orchestrate and
// pkg/scheduler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Koko12137/tasking-community-sub000/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "tasking [input text]",
		Short: "Run one hierarchical agent task to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load(v)
			if err != nil {
				return err
			}
			title, err := cmd.Flags().GetString("title")
			if err != nil {
				return err
			}
			if title == "" {
				title = "cli task"
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sig
				cancel()
			}()

			output, err := runTask(ctx, s, title, args[0])
			if err != nil {
				return err
			}
			fmt.Println(output)
			return nil
		},
	}

	if err := config.BindFlags(v, cmd.PersistentFlags()); err != nil {
		panic(fmt.Sprintf("tasking: bind flags: %v", err))
	}
	cmd.Flags().String("title", "", "human-readable title recorded on the root task")

	return cmd
}
