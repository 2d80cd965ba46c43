package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/zapfield/zapfield/internal/notify"
	"github.com/zapfield/zapfield/internal/store"
	"github.com/zapfield/zapfield/internal/wapp"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage device accounts: add, list, pair, remove",
	}
	cmd.AddCommand(accountsListCmd())
	cmd.AddCommand(accountsAddCmd())
	cmd.AddCommand(accountsPairCmd())
	cmd.AddCommand(accountsRemoveCmd())
	cmd.AddCommand(accountsLogoutCmd())
	return cmd
}

// --- accounts list ---

func accountsListCmd() *cobra.Command {
	var jsonOutput bool
	var tenant string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List device accounts",
		Run: func(cmd *cobra.Command, args []string) {
			runAccountsList(tenant, jsonOutput)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "filter by tenant")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runAccountsList(tenant string, jsonOutput bool) {
	cfg := loadConfig()
	stores, closeStores := openStores(cfg)
	defer closeStores()

	accounts, err := stores.Accounts.List(context.Background(), tenant)
	if err != nil {
		fatal("listing accounts: %v", err)
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(accounts, "", "  ")
		fmt.Println(string(out))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTENANT\tSTATUS\tJID\tDEFAULT")
	for _, acc := range accounts {
		def := ""
		if acc.IsDefault {
			def = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", acc.ID, acc.Name, acc.TenantID, acc.Status, acc.JID, def)
	}
	w.Flush()
}

// --- accounts add ---

func accountsAddCmd() *cobra.Command {
	var tenant, name string
	var isDefault bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new device account",
		Run: func(cmd *cobra.Command, args []string) {
			runAccountsAdd(tenant, name, isDefault)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "owning tenant (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name (required)")
	cmd.Flags().BoolVar(&isDefault, "default", false, "mark as the tenant's default account")
	cmd.MarkFlagRequired("tenant")
	cmd.MarkFlagRequired("name")
	return cmd
}

func runAccountsAdd(tenant, name string, isDefault bool) {
	cfg := loadConfig()
	stores, closeStores := openStores(cfg)
	defer closeStores()

	acc := &store.Account{
		TenantID:  tenant,
		Name:      name,
		Status:    store.StatusPending,
		IsDefault: isDefault,
	}
	if err := stores.Accounts.Create(context.Background(), acc); err != nil {
		fatal("creating account: %v", err)
	}
	fmt.Printf("Account %s created. Pair it with:  zapfield accounts pair %s\n", acc.ID, acc.ID)
}

// --- accounts pair ---

func accountsPairCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "pair <account-id>",
		Short: "Pair a device by scanning a QR code in the terminal",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runAccountsPair(args[0], timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "give up after this long")
	return cmd
}

func runAccountsPair(idArg string, timeout time.Duration) {
	accountID := parseAccountID(idArg)
	cfg := loadConfig()
	stores, closeStores := openStores(cfg)
	defer closeStores()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	factory := openFactory(ctx, cfg)
	mgr := wapp.NewManager(factory, *stores, notify.LogNotifier{})
	defer mgr.Shutdown(context.Background())

	done := make(chan error, 1)
	go func() { done <- mgr.InitSession(ctx, accountID) }()

	// The pairing code lands in the account record; poll and render each
	// fresh one until the session opens.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	lastCode := ""

	for {
		select {
		case err := <-done:
			if err != nil {
				if errors.Is(err, wapp.ErrPairingExceeded) {
					fatal("pairing failed: code expired too many times, run pair again")
				}
				fatal("pairing failed: %v", err)
			}
			fmt.Println("Paired. The account is now connected.")
			return

		case <-ticker.C:
			acc, err := stores.Accounts.FindByID(ctx, accountID)
			if err != nil || acc.QRCode == "" || acc.QRCode == lastCode {
				continue
			}
			lastCode = acc.QRCode
			renderQR(acc.QRCode, acc.Retries)
		}
	}
}

func renderQR(code string, attempt int) {
	qr, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		fmt.Printf("Pairing code (attempt %d): %s\n", attempt, code)
		return
	}
	fmt.Printf("\nScan with the device (attempt %d of 3):\n%s\n", attempt, qr.ToSmallString(false))
}

// --- accounts remove ---

func accountsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <account-id>",
		Short: "Delete an account and its stored pairing",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runAccountsRemove(args[0])
		},
	}
}

func runAccountsRemove(idArg string) {
	accountID := parseAccountID(idArg)
	cfg := loadConfig()
	stores, closeStores := openStores(cfg)
	defer closeStores()
	ctx := context.Background()

	if err := stores.Credentials.Delete(ctx, accountID); err != nil && !errors.Is(err, store.ErrNoCredentials) {
		fmt.Fprintf(os.Stderr, "Warning: deleting credentials: %v\n", err)
	}
	if err := stores.Accounts.Delete(ctx, accountID); err != nil {
		fatal("deleting account: %v", err)
	}
	fmt.Printf("Account %s removed.\n", accountID)
}

// --- accounts logout ---

func accountsLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <account-id>",
		Short: "Log the device out and clear its stored pairing",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runAccountsLogout(args[0])
		},
	}
}

func runAccountsLogout(idArg string) {
	accountID := parseAccountID(idArg)
	cfg := loadConfig()
	stores, closeStores := openStores(cfg)
	defer closeStores()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	factory := openFactory(ctx, cfg)
	mgr := wapp.NewManager(factory, *stores, notify.LogNotifier{})
	defer mgr.Shutdown(context.Background())

	// Connect with the stored pairing so the logout reaches the server,
	// then tear down. A never-paired account just gets its state cleared.
	if err := mgr.InitSession(ctx, accountID); err == nil {
		mgr.RemoveSession(ctx, accountID, true)
	}

	status := store.StatusPending
	empty := ""
	if err := stores.Accounts.Update(ctx, accountID, store.AccountUpdate{Status: &status, QRCode: &empty, JID: &empty}); err != nil {
		fatal("updating account: %v", err)
	}
	if err := stores.Credentials.Delete(ctx, accountID); err != nil && !errors.Is(err, store.ErrNoCredentials) {
		fmt.Fprintf(os.Stderr, "Warning: deleting credentials: %v\n", err)
	}
	fmt.Printf("Account %s logged out.\n", accountID)
}

// --- helpers ---

func parseAccountID(arg string) uuid.UUID {
	id, err := uuid.Parse(arg)
	if err != nil {
		fatal("invalid account id %q: %v", arg, err)
	}
	return id
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
