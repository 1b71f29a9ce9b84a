// Command routecheck verifies that every configured group can hand out a
// working write connection and a working read connection. It prints one line
// per group and mode and exits 1 if any check failed.
//
// Usage:
//
//	routecheck [--config path/to/dataroute.yaml] [--timeout 5s] [--group name]...
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"dataroute/internal/backend"
	"dataroute/internal/config"
	"dataroute/internal/logging"
	"dataroute/internal/provider"
	"dataroute/internal/router"
)

var errChecksFailed = errors.New("routecheck: one or more checks failed")

var (
	cfgPath string
	timeout time.Duration
	groups  []string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "routecheck",
	Short:         "Check that every routing group can serve reads and writes",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "configs/dataroute.yaml", "path to dataroute.yaml")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "deadline per check")
	rootCmd.Flags().StringSliceVar(&groups, "group", nil, "only check these groups")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "log routing decisions to stderr")
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer) error {
	cfg, _, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	// Routing chatter goes to stderr; out carries only the result table.
	cfg.Log.Format = "text"
	cfg.Log.Level = "error"
	if verbose {
		cfg.Log.Level = "debug"
	}
	logging.Setup(os.Stderr, cfg.Log)

	bs, err := backend.OpenAll(ctx, cfg.Providers)
	if err != nil {
		return err
	}
	defer backend.CloseAll(bs) //nolint:errcheck

	reg, err := provider.NewRegistry(backend.Providers(bs)...)
	if err != nil {
		return err
	}
	rt, err := router.FromConfig(cfg, reg, nil)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tMODE\tRESULT\tDURATION")
	failed := false
	for _, g := range rt.Groups() {
		if len(groups) > 0 && !slices.Contains(groups, g.Name()) {
			continue
		}
		for _, mode := range []string{"write", "read"} {
			start := time.Now()
			result := "ok"
			if err := check(ctx, g, mode == "read"); err != nil {
				result = "FAIL: " + err.Error()
				failed = true
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", g.Name(), mode, result, time.Since(start).Round(time.Millisecond))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed {
		return errChecksFailed
	}
	return nil
}

func check(ctx context.Context, g *router.Group, readOnly bool) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if readOnly {
		ctx = router.WithReadOnly(ctx)
	}

	conn, err := g.Obtain(ctx, provider.Credentials{})
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Ping(ctx)
}
