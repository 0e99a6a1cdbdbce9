package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/d60-Lab/thought-board/internal/api/middleware"
	"github.com/d60-Lab/thought-board/internal/service"
	"github.com/d60-Lab/thought-board/pkg/database"
)

func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.InitDB(opts.cfg)
			if err != nil {
				return err
			}
			defer database.Close(db)
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func NewSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention sweep and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := newApp(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.openDiscord(); err != nil {
				return err
			}
			report, err := a.sweeper().RunOnce(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

type recoverOptions struct {
	GuildID    string
	Channels   []string
	OperatorID string
}

func NewRecoverCommand(opts *RootOptions) *cobra.Command {
	ro := &recoverOptions{}
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Rebuild lost thoughts from channel history",
		Long: `Scan the history of the given channels for cards posted by the bot and
re-create any thought that is missing from the database.

Example:
  thoughtbot recover --guild 123 --channel 456 --channel 789 --operator 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := newApp(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.openDiscord(); err != nil {
				return err
			}
			botID, err := a.restBotID(ctx)
			if err != nil {
				return err
			}
			guild := ro.GuildID
			if guild == "" {
				guild = opts.cfg.Discord.GuildID
			}
			runner := service.NewRecoveryRunner(a.reconciler(botID), a.locker, 1)
			report, err := runner.RunNow(ctx, service.RecoveryRequest{
				GuildID:    guild,
				ChannelIDs: ro.Channels,
				OperatorID: ro.OperatorID,
			})
			if report != nil {
				if perr := printJSON(cmd, report); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&ro.GuildID, "guild", "", "guild whose members are matched against recovered cards")
	cmd.Flags().StringSliceVar(&ro.Channels, "channel", nil, "channel to scan (repeatable)")
	cmd.Flags().StringVar(&ro.OperatorID, "operator", "", "user id recorded as author of anonymous cards")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		operator string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				ttl = opts.cfg.JWT.TTL
			}
			tok, err := middleware.IssueToken(opts.cfg.JWT.Secret, opts.cfg.JWT.Issuer, operator, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator user id (token subject)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default jwt.ttl)")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
