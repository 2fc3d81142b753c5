package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memohai/qqrelay/internal/reconcile"
	"github.com/memohai/qqrelay/internal/session"
)

func newAskCommand() *cobra.Command {
	var userID string
	var groupID string

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Send one query to the Coze bot and print the reconciled reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return errors.New("query is empty")
			}
			scope := session.ScopeDirect
			if groupID != "" {
				scope = session.ScopeGroup
			}

			cfg, err := provideConfig()
			if err != nil {
				return err
			}
			log := provideLogger(cfg)
			reconciler := provideReconciler(log, cfg, provideBackend(provideCozeClient(log, cfg)), session.NewStore())

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			reply := reconciler.Reconcile(ctx, session.KeyFor(scope, userID, groupID), userID, query)
			printReply(cmd, reply)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "sender user id")
	cmd.Flags().StringVarP(&groupID, "group", "g", "", "group id; empty asks as a direct message")
	return cmd
}

func printReply(cmd *cobra.Command, reply reconcile.Reply) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, reply.Text)
	for _, u := range reply.Images {
		fmt.Fprintf(out, "image: %s\n", u)
	}
	for _, u := range reply.Audios {
		fmt.Fprintf(out, "audio: %s\n", u)
	}
}
