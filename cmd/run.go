package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fentensoft/maicai/internal/config"
	"github.com/fentensoft/maicai/internal/dispatcher"
	"github.com/fentensoft/maicai/internal/logging"
	"github.com/fentensoft/maicai/internal/maicai"
	"github.com/fentensoft/maicai/internal/notify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the grabber until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			log, err := logging.Init(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			channel, err := maicai.ChannelFromString(cfg.Channel)
			if err != nil {
				return err
			}
			payType, err := maicai.PayTypeFromString(cfg.PayType)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			session, err := maicai.New(maicai.Config{
				Cookie:  cfg.Cookie,
				Channel: channel,
				PayType: payType,
			}, log.Named("session"))
			if err != nil {
				return err
			}
			if err := session.Login(ctx); err != nil {
				return fmt.Errorf("login: %w", err)
			}

			addresses, err := session.ListAddresses(ctx)
			if err != nil {
				return fmt.Errorf("list addresses: %w", err)
			}
			session.SelectAddress(pickAddress(addresses, cfg.AddressKeyword, log))

			d := &dispatcher.Dispatcher{
				Session:      session,
				OrderWorkers: cfg.OrderWorkers,
				Log:          log.Named("dispatcher"),
			}
			if cfg.BarkKey != "" {
				d.Notifier = notify.NewBark(cfg.BarkKey, log.Named("bark"))
			}
			d.SetSchedule(cfg.ParseSchedules(log))

			if err := d.Start(); err != nil {
				return err
			}

			<-ctx.Done()
			log.Info("interrupt received, shutting down")
			d.Stop()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./maicai.yaml)")
	return cmd
}

// pickAddress prefers the first address whose text contains the
// keyword and falls back to the last one listed.
func pickAddress(addresses []maicai.Address, keyword string, log *zap.Logger) maicai.Address {
	picked := addresses[len(addresses)-1]
	if keyword == "" {
		return picked
	}
	for _, a := range addresses {
		if strings.Contains(a.Location, keyword) {
			log.Info("matched address by keyword", zap.String("address", a.Location))
			return a
		}
	}
	return picked
}
