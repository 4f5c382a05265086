package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/session"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Join a session and stream its items to stdout",
	Long: `Join a live session and print items as they arrive.

Items already cached locally are shown immediately, before any connection
exists; the authoritative history snapshot replaces them once joined.
Engine logs go to a rotating file under the store directory so stdout
stays clean.

Example usage:
  gc-live tail --server ws://host:8080/ws --session s-123 --event e-456
  gc-live tail --feature qa --session s-123 --event e-456`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logPath := filepath.Join(filepath.Dir(storePath()), "gc-live.log")
		logger := log.New(&lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     7, // days
		}, "[gc-live] ", log.LstdFlags)

		stk, err := openStack(logger)
		if err != nil {
			return err
		}
		defer stk.close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := stk.session.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: not connected yet (%v), showing cached items\n", err)
		}

		printItems(cmd.OutOrStdout(), nil, stk.session.Items())
		fmt.Printf("Tailing %s (phase: %s). Press Ctrl+C to stop...\n",
			stk.session.Scope(), stk.session.Phase())

		seen := make(map[string]bool)
		for _, it := range stk.session.Items() {
			seen[it.ID] = true
		}

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nLeaving session...")
				return nil
			case <-ticker.C:
				printItems(cmd.OutOrStdout(), seen, stk.session.Items())
				if err := stk.session.Err(); err != nil {
					fmt.Fprintf(os.Stderr, "! %v\n", err)
					stk.session.ClearErr()
				}
			}
		}
	},
}

// printItems writes items not in seen, updating seen in place. A nil
// seen prints everything.
func printItems(w io.Writer, seen map[string]bool, items []session.Item) {
	for _, it := range items {
		if seen != nil {
			if seen[it.ID] {
				continue
			}
			seen[it.ID] = true
		}
		marker := " "
		switch {
		case it.Pending:
			marker = "…"
		case it.Optimistic:
			marker = "?"
		}
		fmt.Fprintf(w, "%s [%s] %s: %s\n", marker, it.Timestamp.Format("15:04:05"), it.AuthorID, it.Content)
	}
}

func init() {
	rootCmd.AddCommand(tailCmd)
}
