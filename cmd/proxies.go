package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var flagJSON bool

var proxiesCmd = &cobra.Command{
	Use:   "proxies",
	Short: "Fetch proxy lists once, verify a batch and print the working proxies",
	RunE:  proxiesRun,
}

func init() {
	proxiesCmd.Flags().BoolVarP(&flagJSON, "json", "j", false, "Output as JSON")
}

func proxiesRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, closePool := buildPool(&cfg.Proxy)
	defer closePool()
	if err := pool.Validate(); err != nil {
		return err
	}

	pool.RefreshFromSources(ctx)
	if err := pool.Cycle(ctx); err != nil {
		log.Warn("verification cycle failed", zap.Error(err))
	}

	verified := pool.Verified()
	out := cmd.OutOrStdout()
	if flagJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"count":   len(verified),
			"proxies": verified,
			"stats":   pool.Stats(),
		})
	}

	if len(verified) == 0 {
		return errors.New("no working proxies found")
	}
	for _, vp := range verified {
		if vp.Country != "" {
			fmt.Fprintf(out, "%s\t%s\n", vp.Endpoint, vp.Country)
		} else {
			fmt.Fprintln(out, vp.Endpoint)
		}
	}
	return nil
}
