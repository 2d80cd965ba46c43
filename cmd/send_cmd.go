package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zapfield/zapfield/internal/contacts"
	"github.com/zapfield/zapfield/internal/notify"
	"github.com/zapfield/zapfield/internal/wapp"
)

func sendCmd() *cobra.Command {
	var accountArg, to string
	var group bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send --account <id> --to <number> <text>...",
		Short: "Send a text message through a paired account",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runSend(accountArg, to, group, timeout, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&accountArg, "account", "", "sending account id (required)")
	cmd.Flags().StringVar(&to, "to", "", "destination number or group id (required)")
	cmd.Flags().BoolVar(&group, "group", false, "destination is a group")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "give up after this long")
	cmd.MarkFlagRequired("account")
	cmd.MarkFlagRequired("to")
	return cmd
}

func runSend(accountArg, to string, group bool, timeout time.Duration, text string) {
	accountID := parseAccountID(accountArg)
	cfg := loadConfig()
	stores, closeStores := openStores(cfg)
	defer closeStores()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	acc, err := stores.Accounts.FindByID(ctx, accountID)
	if err != nil {
		fatal("loading account: %v", err)
	}

	factory := openFactory(ctx, cfg)
	mgr := wapp.NewManager(factory, *stores, notify.LogNotifier{})
	defer mgr.Shutdown(context.Background())

	if err := mgr.InitSession(ctx, accountID); err != nil {
		fatal("connecting: %v (is the account paired?)", err)
	}

	svc := contacts.NewService(stores.Contacts, notify.LogNotifier{})
	contact, err := svc.CreateOrUpdate(ctx, contacts.UpsertInput{
		TenantID:  acc.TenantID,
		Number:    to,
		IsGroup:   group,
		AccountID: accountID,
	})
	if err != nil {
		fatal("resolving contact: %v", err)
	}

	id, err := mgr.SendText(ctx, accountID, contact, text, nil)
	if err != nil {
		fatal("sending: %v", err)
	}
	fmt.Printf("Sent (message id %s).\n", id)
}
