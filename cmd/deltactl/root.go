package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"delta_bot/internal/models"
	"delta_bot/internal/modules/config"
	delta "delta_bot/internal/modules/delta_client/service"
	pricesvc "delta_bot/internal/modules/price_feed/service"

	"github.com/spf13/cobra"
)

// rootConfig — общие флаги всех команд.
type rootConfig struct {
	configFile string
	timeout    time.Duration

	cfg *config.Config
}

func (rc *rootConfig) oracle() models.PositionOracle {
	return delta.NewClient(rc.cfg.Exchange)
}

func (rc *rootConfig) withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), rc.timeout)
}

func newRootCmd() *cobra.Command {
	rc := &rootConfig{}

	cmd := &cobra.Command{
		Use:           "deltactl",
		Short:         "Operator tool for the Delta Exchange bot account",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if rc.configFile != "" {
				if err := os.Setenv("CONFIG_FILE", rc.configFile); err != nil {
					return err
				}
			}
			cfg, err := config.NewConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rc.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&rc.configFile, "config", "", "config file name under configs/ (overrides CONFIG_FILE)")
	cmd.PersistentFlags().DurationVar(&rc.timeout, "timeout", 15*time.Second, "request timeout")

	cmd.AddCommand(
		newPositionsCmd(rc),
		newOrdersCmd(rc),
		newCancelCmd(rc),
		newPriceCmd(rc),
	)
	return cmd
}

func newPositionsCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "List open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rc.withTimeout()
			defer cancel()

			ps, err := rc.oracle().FetchPositions(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			n := 0
			for _, p := range ps {
				if p.IsFlat() && p.ParseErr == nil {
					continue
				}
				n++
				if p.ParseErr != nil {
					fmt.Fprintf(out, "%-10s %-8s parse error: %v\n", p.ID, p.Symbol, p.ParseErr)
					continue
				}
				fmt.Fprintf(out, "%-10s %-8s %-5s size=%v entry=%s\n",
					p.ID, p.Symbol, p.Direction(), p.AbsSize(), models.FormatPrice(p.EntryPrice))
			}
			if n == 0 {
				fmt.Fprintln(out, "no open positions")
			}
			return nil
		},
	}
}

func newOrdersCmd(rc *rootConfig) *cobra.Command {
	var symbol string

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List open orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rc.withTimeout()
			defer cancel()

			if symbol == "" {
				symbol = rc.cfg.Exchange.Symbol
			}
			orders, err := rc.oracle().FetchOpenOrders(ctx, symbol)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(orders) == 0 {
				fmt.Fprintln(out, "no open orders")
				return nil
			}
			for _, o := range orders {
				fmt.Fprintf(out, "%-14s %-8s %-4s %v @ %s %s\n",
					o.ID, o.Symbol, o.Side, o.Amount, models.FormatPrice(o.Price), o.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "product symbol (default from config)")
	return cmd
}

func newCancelCmd(rc *rootConfig) *cobra.Command {
	var symbol string

	cmd := &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an open order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rc.withTimeout()
			defer cancel()

			if symbol == "" {
				symbol = rc.cfg.Exchange.Symbol
			}
			res, err := rc.oracle().CancelOrder(ctx, args[0], symbol)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %s: %s\n", res.ID, res.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "product symbol (default from config)")
	return cmd
}

func newPriceCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "price",
		Short: "Show the reference price from the Binance futures REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rc.withTimeout()
			defer cancel()

			p, err := pricesvc.NewBinanceREST(rc.cfg.PriceFeed).LastPrice(ctx, rc.cfg.PriceFeed.RESTSymbol)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", rc.cfg.PriceFeed.RESTSymbol, models.FormatPrice(p))
			return nil
		},
	}
}
