package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/meridian-group/scorecard-cli/internal/cache"
	"github.com/meridian-group/scorecard-cli/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the extraction result cache",
}

// initDurableTier opens the configured durable cache tier directly, without
// the model client. Admin commands operate on the durable tier; the memory
// tier is per-process and empty here.
func initDurableTier(ctx context.Context) (cache.DurableTier, func(), error) {
	switch cfg.Cache.Durable {
	case "file":
		tier, err := cache.NewFileTier(cfg.Cache.Dir)
		if err != nil {
			return nil, nil, eris.Wrap(err, "init file cache tier")
		}
		return tier, func() {}, nil
	case "store":
		st, err := initStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, nil, eris.Wrap(err, "migrate store")
		}
		return store.NewCacheTier(st), func() { _ = st.Close() }, nil
	default:
		return nil, nil, eris.Errorf("no durable cache tier configured (cache.durable is %q)", cfg.Cache.Durable)
	}
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired entries from the durable cache tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tier, closeTier, err := initDurableTier(ctx)
		if err != nil {
			return err
		}
		defer closeTier()

		n, err := tier.SweepExpired(ctx)
		if err != nil {
			return eris.Wrap(err, "cache sweep")
		}
		fmt.Printf("Removed %d expired entries.\n", n)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all entries from the durable cache tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tier, closeTier, err := initDurableTier(ctx)
		if err != nil {
			return err
		}
		defer closeTier()

		if err := tier.Clear(ctx); err != nil {
			return eris.Wrap(err, "cache clear")
		}
		fmt.Println("Cache cleared.")
		return nil
	},
}

var cacheGetCmd = &cobra.Command{
	Use:   "get <fingerprint>",
	Short: "Show one cached entry by fingerprint key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tier, closeTier, err := initDurableTier(ctx)
		if err != nil {
			return err
		}
		defer closeTier()

		e, err := tier.Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "cache get")
		}
		if e == nil {
			fmt.Fprintln(os.Stderr, "Not found (or expired).")
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(e)
	},
}

func init() {
	cacheCmd.AddCommand(cacheSweepCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheGetCmd)
	rootCmd.AddCommand(cacheCmd)
}
