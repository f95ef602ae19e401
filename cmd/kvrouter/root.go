package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	natsdriver "github.com/codewandler/kvrouter/adapters/nats"
	redisdriver "github.com/codewandler/kvrouter/adapters/redis"
	"github.com/codewandler/kvrouter/core/cluster"
	"github.com/codewandler/kvrouter/internal/config"
)

type app struct {
	configPath string
	regions    string
	driver     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "kvrouter",
		Short:         "Route key-value commands across sharded backend regions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "config file (default $"+config.EnvPath+")")
	f.StringVar(&a.regions, "regions", "", `topology override, e.g. "h1:6379,h2:6379;h3:6379"`)
	f.StringVar(&a.driver, "driver", "", "driver override: memory, redis or nats")
	f.StringVar(&a.logLevel, "log-level", "", "log level override")

	cmd.AddCommand(
		newShardCmd(a),
		newRequestCmd(a),
		newRequestAtCmd(a),
		newInstanceCmd(a),
		newStatusCmd(a),
		newPipelineCmd(a),
		newLoadtestCmd(a),
	)
	return cmd
}

func (a *app) config() (config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return cfg, err
	}
	if a.regions != "" {
		topo, err := parseRegions(a.regions)
		if err != nil {
			return cfg, err
		}
		cfg.Regions = topo
	}
	if a.driver != "" {
		cfg.Driver = a.driver
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	return cfg, cfg.Validate()
}

// connect builds a router from the effective config.
func (a *app) connect(ctx context.Context, metrics cluster.RouterMetrics) (*cluster.Router, config.Config, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, cfg, err
	}
	log := cfg.Log.NewLogger(os.Stderr)

	backoff, _ := cfg.BackoffDuration()
	dialTimeout, _ := cfg.DialTimeoutDuration()

	var driver cluster.Driver
	switch cfg.Driver {
	case "redis":
		driver = redisdriver.New(redisdriver.Options{DialTimeout: dialTimeout, Log: log})
	case "nats":
		driver = natsdriver.NewDriver(natsdriver.DriverConfig{Bucket: cfg.Nats.Bucket, Timeout: dialTimeout, Log: log})
	default:
		d := cluster.NewMemoryDriver().WithLog(log)
		d.AddTopology(cfg.Topology())
		driver = d
	}

	r, err := cluster.Connect(ctx, cluster.RouterOptions{
		Name:     cfg.Name,
		Topology: cfg.Topology(),
		Driver:   driver,
		Backoff:  backoff,
		Log:      log,
		Metrics:  metrics,
	})
	return r, cfg, err
}

// parseRegions parses "h1:p1,h2:p2;h3:p3": regions separated by ';',
// instances by ','.
func parseRegions(s string) ([][]cluster.Endpoint, error) {
	var out [][]cluster.Endpoint
	for _, rs := range strings.Split(s, ";") {
		var region []cluster.Endpoint
		for _, es := range strings.Split(rs, ",") {
			es = strings.TrimSpace(es)
			if es == "" {
				continue
			}
			ep, err := cluster.ParseEndpoint(es)
			if err != nil {
				return nil, err
			}
			region = append(region, ep)
		}
		if len(region) == 0 {
			return nil, fmt.Errorf("regions %q: empty region", s)
		}
		out = append(out, region)
	}
	return out, nil
}

func printReply(cmd *cobra.Command, reply cluster.Reply) {
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(reply.Status.String()+" "+strings.Join(reply.Values, " ")))
}

func closeRouter(r *cluster.Router) {
	if err := r.Close(); err != nil {
		slog.Warn("close router", slog.Any("error", err))
	}
}
