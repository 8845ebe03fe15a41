package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shek-hrd/dateherenow/internal/config"
)

var (
	clientCfg config.ClientConfig
	logger    *slog.Logger
)

func Execute() error {
	root := newRootCmd()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "dateherenow",
		Short:        "Meet people nearby over direct peer-to-peer channels",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient(cmd.Flags())
			if err != nil {
				return err
			}
			l, err := config.NewLogger(cfg.Logging, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			clientCfg, logger = cfg, l
			return nil
		},
	}

	config.RegisterClientFlags(root.PersistentFlags())

	root.AddCommand(joinCmd(), distanceCmd())
	return root
}
