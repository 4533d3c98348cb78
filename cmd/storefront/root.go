package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/storefront-engine/internal/geo"
	"github.com/angelmondragon/storefront-engine/internal/session"
	"github.com/angelmondragon/storefront-engine/pkg/config"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/types"
)

const serviceName = "storefront"

type rootOptions struct {
	envFile string
	lat     float64
	lng     float64
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "storefront",
		Short:         "Storefront cart, pricing and order engine",
		Long:          `storefront keeps a device's cart, prices it against the order backend, places orders and tracks them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.PersistentFlags().Float64Var(&opts.lat, "lat", 0, "fixed latitude reported as the device location")
	cmd.PersistentFlags().Float64Var(&opts.lng, "lng", 0, "fixed longitude reported as the device location")

	cmd.AddCommand(
		newServeCmd(opts),
		newQuoteCmd(opts),
		newOrdersCmd(opts),
		newDeviceCmd(opts),
	)
	return cmd
}

// bootstrap loads configuration and builds the logger.
func bootstrap(opts *rootOptions) (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(opts.envFile); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	return cfg, logg, nil
}

func (o *rootOptions) location() geo.Provider {
	if o.lat == 0 && o.lng == 0 {
		return geo.StaticProvider{Err: &geo.Error{Kind: geo.KindUnavailable}}
	}
	return geo.StaticProvider{Location: types.Location{Lat: o.lat, Lng: o.lng}}
}

// openSession is the entry point for the one-shot commands.
func openSession(ctx context.Context, opts *rootOptions, reg prometheus.Registerer) (*session.Session, *session.Infra, *logger.Logger, error) {
	cfg, logg, err := bootstrap(opts)
	if err != nil {
		return nil, nil, nil, err
	}
	sess, infra, err := session.Open(ctx, *cfg, logg, reg, opts.location())
	if err != nil {
		return nil, nil, nil, err
	}
	return sess, infra, logg, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
