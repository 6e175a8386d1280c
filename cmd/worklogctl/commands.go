package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/worklog/internal/adapter/driven/keyring"
	sqliteadapter "github.com/ericfisherdev/worklog/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/worklog/internal/application"
	"github.com/ericfisherdev/worklog/internal/config"
	"github.com/ericfisherdev/worklog/internal/domain/model"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

// env is the opened database and vault shared by every command.
type env struct {
	db    *sqliteadapter.DB
	vault *application.Vault
	audit *sqliteadapter.AuditRepo
}

// openEnv loads configuration and opens the credential store. The vault is
// built without OAuth exchangers: these commands never talk to providers.
func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}
	cipher, err := keyring.New(cfg.SecretKeys)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("token keyring: %w", err)
	}
	audit := sqliteadapter.NewAuditRepo(db)
	return &env{
		db:    db,
		vault: application.NewVault(sqliteadapter.NewCredentialRepo(db), cipher, nil, audit),
		audit: audit,
	}, nil
}

func withEnv(run func(ctx context.Context, e *env, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = e.db.Close() }()
		return run(ctx, e, cmd)
	}
}

func rekeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rekey",
		Short: "Re-encrypt stored tokens under the active key version",
		Long: `Re-encrypt every stored credential whose ciphertext was produced by an
older key version. Add the new version to WORKLOG_SECRET_KEYS first, run
rekey, then drop the old version once this reports nothing left to do.`,
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command) error {
			n, err := e.vault.Rekey(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("all credentials already use the active key"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("re-encrypted %d credentials", n)))
			return nil
		}),
	}
}

func credentialsCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Show a user's provider connections",
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command) error {
			statuses, err := e.vault.Status(ctx, userID)
			if err != nil {
				return err
			}
			return renderConnections(cmd.OutOrStdout(), statuses)
		}),
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func disconnectCmd() *cobra.Command {
	var userID, providerName string
	cmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Delete a user's stored tokens for a provider",
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command) error {
			p, err := model.ParseProviderType(providerName)
			if err != nil {
				return err
			}
			if err := e.vault.Disconnect(ctx, userID, p); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("disconnected ")+string(p))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id")
	cmd.Flags().StringVarP(&providerName, "provider", "p", "", "Provider name, e.g. jira")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func auditCmd() *cobra.Command {
	var (
		userID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show a user's most recent audit events",
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command) error {
			events, err := e.audit.ListByUser(ctx, userID, limit)
			if err != nil {
				return err
			}
			return renderAudit(cmd.OutOrStdout(), events)
		}),
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum events")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func renderConnections(w io.Writer, statuses []model.ConnectionStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, headerStyle.Render("PROVIDER")+"\t"+headerStyle.Render("STATUS")+"\t"+
		headerStyle.Render("CONNECTED")+"\t"+headerStyle.Render("EXPIRES")+"\t"+headerStyle.Render("SCOPE"))
	for _, s := range statuses {
		state := mutedStyle.Render("not connected")
		if s.IsConnected {
			state = okStyle.Render("connected")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Provider, state,
			formatTime(s.ConnectedAt), formatTime(s.ExpiresAt), orDash(s.Scope))
	}
	return tw.Flush()
}

func renderAudit(w io.Writer, events []model.AuditEvent) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, mutedStyle.Render("no audit events"))
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, headerStyle.Render("AT")+"\t"+headerStyle.Render("ACTION")+"\t"+
		headerStyle.Render("PROVIDER")+"\t"+headerStyle.Render("OUTCOME")+"\t"+headerStyle.Render("DETAIL"))
	for _, ev := range events {
		outcome := ev.Outcome
		if outcome == "ok" {
			outcome = okStyle.Render(outcome)
		} else {
			outcome = errorStyle.Render(outcome)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", formatTime(ev.At), ev.Action,
			orDash(string(ev.Provider)), outcome, orDash(ev.Detail))
	}
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
