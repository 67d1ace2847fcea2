// Command readcheck loads fixture graphs through a configured session and
// fails when merely reading them back issues an UPDATE.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"entitygraph/internal/config"
	"entitygraph/internal/readcheck"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("readcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath string
		driver     string
		fixture    string
	)
	fs.StringVar(&configPath, "config", "", "path to YAML config (defaults built in)")
	fs.StringVar(&driver, "driver", "", "storage driver override: memory|sqlite|postgres")
	fs.StringVar(&fixture, "fixture", "", "fixture set override: library|shop")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 2
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		fmt.Fprintf(stderr, "environment: %v\n", err)
		return 2
	}
	if driver != "" {
		cfg.Storage.Driver = driver
	}
	if fixture != "" {
		cfg.Storage.Fixture = fixture
	}

	env, err := readcheck.Open(ctx, cfg, stderr, nil)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}
	results, err := env.Run(ctx)
	if closeErr := env.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tSTATEMENTS\tUPDATES\tRESULT")
	failed := 0
	for _, r := range results {
		status := "ok"
		switch {
		case r.Err != nil:
			status = "error: " + r.Err.Error()
			failed++
		case r.Updates > 0:
			status = "FAIL"
			failed++
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", r.Name, r.Statements, r.Updates, status)
	}
	_ = tw.Flush()
	if failed > 0 {
		fmt.Fprintf(stderr, "%d of %d scenarios failed\n", failed, len(results))
		return 1
	}
	return 0
}
