package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/anonymizer/internal/bot"
	"github.com/andresmejia3/anonymizer/internal/utils"
	"github.com/spf13/cobra"
)

type botOptions struct {
	engineOptions
	Token string
}

var botOpts botOptions

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Telegram bot (token from --token or TELEGRAM_TOKEN)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runBot(cmd.Context(), botOpts)
	},
}

func init() {
	botCmd.Flags().StringVar(&botOpts.Token, "token", "", "Telegram bot token (env TELEGRAM_TOKEN)")
	botOpts.addFlags(botCmd)

	rootCmd.AddCommand(botCmd)
}

func runBot(ctx context.Context, opts botOptions) error {
	if opts.Token == "" {
		opts.Token = os.Getenv("TELEGRAM_TOKEN")
	}
	if opts.Token == "" {
		err := errors.New("TELEGRAM_TOKEN is not set")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if err := opts.engineOptions.validate(); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	b, err := bot.New(opts.Token, processorFactory(&opts.engineOptions), Ledger)
	if err != nil {
		utils.ShowError("Failed to connect to Telegram", err, nil)
		return err
	}
	fmt.Fprintln(os.Stderr, "🤖 Bot running. Press Ctrl+C to stop.")
	return b.Run(ctx)
}
