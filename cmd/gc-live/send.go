package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one item to a session",
	Long: `Send a single item (e.g. a chat message) to a live session.

The item is applied optimistically and transmitted if the session can be
joined. If the server is unreachable the item is queued in the durable
outbox instead and will be replayed by the next invocation that manages
to join; the command still exits successfully in that case.

Example usage:
  gc-live send --session s-123 --event e-456 --content "hello"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		content, _ := cmd.Flags().GetString("content")
		if content == "" {
			return fmt.Errorf("--content is required")
		}

		logger := log.New(os.Stderr, "[gc-live] ", log.LstdFlags)
		stk, err := openStack(logger)
		if err != nil {
			return err
		}
		defer stk.close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := stk.session.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: not connected (%v), queueing offline\n", err)
		}

		// Give the join handshake a moment; offline sends queue anyway.
		stk.waitSettled(3 * time.Second)

		item, err := stk.session.Send(content, nil)
		if err != nil {
			return err
		}

		if stk.waitSettled(10 * time.Second) {
			for _, it := range stk.session.Items() {
				if it.ID == item.ID || it.OptimisticID == item.OptimisticID {
					fmt.Printf("Sent: %s\n", it.ID)
					return nil
				}
			}
			fmt.Println("Sent")
			return nil
		}

		pending, err := stk.outbox.Pending(stk.session.Scope())
		if err == nil && pending > 0 {
			fmt.Printf("Queued offline (%d event(s) in outbox)\n", pending)
		} else {
			fmt.Println("Sent (unconfirmed)")
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().String("content", "", "item content to send")
	rootCmd.AddCommand(sendCmd)
}
