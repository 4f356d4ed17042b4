package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iho/ledgerbridge/internal/infrastructure/postgres"
)

var (
	baseURL string
	timeout time.Duration
)

type transferFlags struct {
	identity  string
	amount    string
	currency  string
	memo      string
	requestID string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ledgerbridge-cli",
		Short:         "ledgerbridge CLI tool",
		Long:          `A command line interface for moving money between the bank and brokerage ledgers through the ledgerbridge API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "http://localhost:8080", "Base URL of the ledgerbridge API")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 3*time.Minute, "Request timeout")

	// Transfer commands
	transferCmd := &cobra.Command{
		Use:   "transfer",
		Short: "Transfer operations",
	}
	transferCmd.AddCommand(
		newTransferCmd("bank-to-brokerage", "Move cash from the bank account to the brokerage account"),
		newTransferCmd("brokerage-to-bank", "Move cash from the brokerage account to the bank account"),
		&cobra.Command{
			Use:   "get <request-id>",
			Short: "Show a transfer and its state history",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd.OutOrStdout(), http.MethodGet, "/transfers/"+url.PathEscape(args[0]), nil, "")
			},
		},
	)

	// Review commands
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Manual review queue",
	}
	var limit, offset int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List transfers flagged for manual review",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
			return call(cmd.OutOrStdout(), http.MethodGet, "/transfers/review?"+q.Encode(), nil, "")
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of transfers")
	listCmd.Flags().IntVar(&offset, "offset", 0, "Number of transfers to skip")
	reviewCmd.AddCommand(listCmd)

	rootCmd.AddCommand(transferCmd, reviewCmd, newMigrateCmd())
	return rootCmd
}

func newTransferCmd(direction, short string) *cobra.Command {
	var f transferFlags
	cmd := &cobra.Command{
		Use:   direction,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"identity": f.identity,
				"amount":   f.amount,
			}
			if f.currency != "" {
				body["currency"] = f.currency
			}
			if f.memo != "" {
				body["memo"] = f.memo
			}

			// A generated key lets the user safely rerun the command after a
			// timeout by passing the printed key back.
			key := f.requestID
			if key == "" {
				key = uuid.NewString()
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Idempotency-Key: %s\n", key)

			return call(cmd.OutOrStdout(), http.MethodPost, "/transfers/"+direction, body, key)
		},
	}

	cmd.Flags().StringVar(&f.identity, "identity", "", "Account owner identity (email)")
	cmd.Flags().StringVar(&f.amount, "amount", "", "Amount as a decimal string, e.g. 200.00")
	cmd.Flags().StringVar(&f.currency, "currency", "", "ISO currency code (server default when empty)")
	cmd.Flags().StringVar(&f.memo, "memo", "", "Optional memo")
	cmd.Flags().StringVar(&f.requestID, "request-id", "", "Idempotency key; reuse it to retry safely")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var databaseURL, path string
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migrations",
	}
	migrateCmd.PersistentFlags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	migrateCmd.PersistentFlags().StringVar(&path, "path", "migrations", "Migrations directory")

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return postgres.RunMigrations(databaseURL, path, log)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return postgres.RunMigrationsDown(databaseURL, path, log)
			},
		},
	)
	return migrateCmd
}

// call sends one request and prints the indented response body. Statuses
// outside 2xx are returned as errors; 202 and 207 print a warning.
func call(out io.Writer, method, path string, body any, idempotencyKey string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, strings.TrimRight(baseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(raw)
	}
	fmt.Fprintln(out, pretty.String())

	switch {
	case resp.StatusCode == http.StatusAccepted:
		fmt.Fprintln(out, "WARNING: outcome not yet known; the transfer will be finished in the background")
	case resp.StatusCode == http.StatusMultiStatus:
		fmt.Fprintln(out, "WARNING: destination credit failed; see state for the compensation outcome")
	case resp.StatusCode >= 300:
		return fmt.Errorf("request failed (status %d)", resp.StatusCode)
	}
	if resp.Header.Get("X-Idempotency-Replay") == "true" {
		fmt.Fprintln(out, "(replayed result)")
	}
	return nil
}
