package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hylla/bomcat/internal/adapters/lock/redislock"
	serveradapter "github.com/hylla/bomcat/internal/adapters/server"
	servercommon "github.com/hylla/bomcat/internal/adapters/server/common"
	"github.com/hylla/bomcat/internal/adapters/storage/postgres"
	"github.com/hylla/bomcat/internal/adapters/storage/sqlite"
	"github.com/hylla/bomcat/internal/app"
	"github.com/hylla/bomcat/internal/config"
	"github.com/hylla/bomcat/internal/platform"
	"github.com/hylla/bomcat/internal/seed"
)

// version is set at build time.
var version = "dev"

// EnvConfigPath overrides the resolved config file location.
const EnvConfigPath = "BOMCAT_CONFIG"

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := newRootCommand(os.Stdout, os.Stderr, os.LookupEnv)
	if err := fang.Execute(ctx, root, fang.WithVersion(version)); err != nil {
		os.Exit(1)
	}
}

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool
}

// cli carries command dependencies.
type cli struct {
	flags  globalFlags
	stdout io.Writer
	stderr io.Writer
	lookup func(string) (string, bool)
}

// newRootCommand builds the command tree.
func newRootCommand(stdout, stderr io.Writer, lookup func(string) (string, bool)) *cobra.Command {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	c := &cli{stdout: stdout, stderr: stderr, lookup: lookup}
	envOpts := platform.OptionsFromEnv(lookup)

	root := &cobra.Command{
		Use:           "bomcat",
		Short:         "Business process hierarchy with derived RAG status",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&c.flags.configPath, "config", "", "path to config TOML")
	root.PersistentFlags().StringVar(&c.flags.dbPath, "db", "", "path to sqlite database")
	root.PersistentFlags().StringVar(&c.flags.appName, "app", envOpts.AppName, "application name for config/data path resolution")
	root.PersistentFlags().BoolVar(&c.flags.devMode, "dev", envOpts.DevMode, "use dev mode paths (<app>-dev)")

	root.AddCommand(
		c.pathsCommand(),
		c.serveCommand(),
		c.codesCommand(),
		c.ragCommand(),
		c.heatmapCommand(),
		c.importCommand(),
	)
	return root
}

// pathsCommand prints resolved runtime paths.
func (c *cli) pathsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data and log paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := c.paths()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "config: %s\n", c.configPath(paths))
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(out, "log_dir: %s\n", paths.LogDir)
			return nil
		},
	}
}

// serveCommand runs the HTTP API, MCP and ops endpoints.
func (c *cli) serveCommand() *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and MCP endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtimeEnv) error {
				cfg := rt.cfg.Server
				if strings.TrimSpace(bind) != "" {
					cfg.HTTPBind = bind
				}
				return serveCommandRunner(ctx, serveradapter.Config{
					HTTPBind:        cfg.HTTPBind,
					APIEndpoint:     cfg.APIEndpoint,
					MCPEndpoint:     cfg.MCPEndpoint,
					MetricsEndpoint: cfg.MetricsEndpoint,
					ServerName:      "bomcat",
					ServerVersion:   version,
					RequestTimeout:  cfg.RequestTimeout(),
				}, serveradapter.Dependencies{
					Service:   rt.adapter,
					Readiness: rt.readiness,
					Logger:    rt.logger.Service(),
				})
			})
		},
	}
	cmd.Flags().StringVar(&bind, "http", "", "override server.http_bind")
	return cmd
}

// codesCommand groups code maintenance subcommands.
func (c *cli) codesCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "codes", Short: "Maintain dotted process codes"}
	var tenant string
	regenerate := &cobra.Command{
		Use:   "regenerate",
		Short: "Recompute every code of a tenant from tree positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtimeEnv) error {
				result, err := rt.adapter.RegenerateCodes(ctx, tenant)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "codes changed: %d\n", result.Changed)
				return nil
			})
		},
	}
	requireTenantFlag(regenerate, &tenant)
	cmd.AddCommand(regenerate)
	return cmd
}

// ragCommand groups RAG maintenance subcommands.
func (c *cli) ragCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "rag", Short: "Maintain derived RAG statuses"}
	var tenant string
	recompute := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute every derived RAG status of a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtimeEnv) error {
				result, err := rt.adapter.RecomputeRAG(ctx, tenant)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "processes changed: %d\n", result.Changed)
				return nil
			})
		},
	}
	requireTenantFlag(recompute, &tenant)
	cmd.AddCommand(recompute)
	return cmd
}

// heatmapCommand prints one heatmap view.
func (c *cli) heatmapCommand() *cobra.Command {
	var (
		tenant string
		rollup bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "heatmap",
		Short: "Print open-issue counts and colours per process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtimeEnv) error {
				view := "direct"
				if rollup {
					view = "rollup"
				}
				heatmap, err := rt.adapter.GetHeatmap(ctx, tenant, view)
				if err != nil {
					return err
				}
				if asJSON {
					return writeHeatmapJSON(cmd.OutOrStdout(), heatmap)
				}
				_, err = io.WriteString(cmd.OutOrStdout(), renderHeatmap(heatmap)+"\n")
				return err
			})
		},
	}
	requireTenantFlag(cmd, &tenant)
	cmd.Flags().BoolVar(&rollup, "rollup", false, "aggregate counts over each subtree")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

// importCommand seeds a tenant from a YAML process tree.
func (c *cli) importCommand() *cobra.Command {
	var (
		tenant string
		inPath string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Append a YAML process tree and its issues to a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := seed.LoadFile(inPath)
			if err != nil {
				return err
			}
			return c.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtimeEnv) error {
				rt.logger.Info("command flow start", "command", "import", "tenant_id", tenant, "in", inPath)
				result, err := seed.Apply(ctx, rt.adapter, tenant, doc)
				if err != nil {
					rt.logger.Error("command flow failed", "command", "import", "processes", result.Processes, "err", err)
					return fmt.Errorf("import seed: %w", err)
				}
				rt.logger.Info("command flow complete", "command", "import", "processes", result.Processes, "issues", result.Issues)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %d processes, %d issues\n", result.Processes, result.Issues)
				return nil
			})
		},
	}
	requireTenantFlag(cmd, &tenant)
	cmd.Flags().StringVar(&inPath, "in", "", "input seed YAML file")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

// requireTenantFlag registers the mandatory --tenant flag on cmd.
func requireTenantFlag(cmd *cobra.Command, tenant *string) {
	cmd.Flags().StringVar(tenant, "tenant", "", "tenant identifier")
	_ = cmd.MarkFlagRequired("tenant")
}

// runtimeEnv holds the opened backends for one command run.
type runtimeEnv struct {
	cfg       config.Config
	logger    *runtimeLogger
	adapter   *servercommon.AppServiceAdapter
	readiness map[string]servercommon.ReadinessChecker
	closers   []func() error
}

// paths resolves platform paths from flags.
func (c *cli) paths() (platform.Paths, error) {
	return platform.DefaultPathsWithOptions(platform.Options{
		AppName: c.flags.appName,
		DevMode: c.flags.devMode,
	})
}

// configPath applies the flag and env overrides to the default config location.
func (c *cli) configPath(paths platform.Paths) string {
	if p := strings.TrimSpace(c.flags.configPath); p != "" {
		return p
	}
	if v, ok := c.lookup(EnvConfigPath); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return paths.ConfigPath
}

// loadConfig resolves, loads and validates runtime configuration.
func (c *cli) loadConfig() (config.Config, platform.Paths, error) {
	paths, err := c.paths()
	if err != nil {
		return config.Config{}, platform.Paths{}, err
	}
	configPath := c.configPath(paths)
	cfg, err := config.Load(configPath, config.Default(paths.DBPath))
	if err != nil {
		return config.Config{}, platform.Paths{}, fmt.Errorf("load config %q: %w", configPath, err)
	}
	cfg.ApplyEnv(c.lookup)
	if p := strings.TrimSpace(c.flags.dbPath); p != "" {
		cfg.Database.Path = p
		cfg.Database.Driver = config.DriverSQLite
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, platform.Paths{}, err
	}
	return cfg, paths, nil
}

// withRuntime opens every backend, runs fn and closes them in reverse order.
func (c *cli) withRuntime(ctx context.Context, fn func(ctx context.Context, rt *runtimeEnv) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := c.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		for i := len(rt.closers) - 1; i >= 0; i-- {
			if closeErr := rt.closers[i](); closeErr != nil {
				rt.logger.Warn("close failed", "err", closeErr)
			}
		}
		err = errors.Join(err, rt.logger.Close())
	}()
	return fn(ctx, rt)
}

// openRuntime wires storage, locking and the service according to config.
func (c *cli) openRuntime(ctx context.Context) (*runtimeEnv, error) {
	cfg, paths, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	appName := platform.DefaultAppName
	if name := strings.TrimSpace(c.flags.appName); name != "" {
		appName = name
	}
	if cfg.Logging.DevFile.Enabled && strings.TrimSpace(cfg.Logging.DevFile.Dir) == "" {
		cfg.Logging.DevFile.Dir = paths.LogDir
	}
	logger, err := newRuntimeLogger(c.stderr, appName, cfg.Logging, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	rt := &runtimeEnv{cfg: cfg, logger: logger, readiness: map[string]servercommon.ReadinessChecker{}}
	fail := func(err error) (*runtimeEnv, error) {
		for i := len(rt.closers) - 1; i >= 0; i-- {
			_ = rt.closers[i]()
		}
		_ = logger.Close()
		return nil, err
	}
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	var repo app.Repository
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		logger.Info("opening postgres repository")
		pg, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			logger.Error("postgres open failed", "err", err)
			return fail(fmt.Errorf("open postgres repository: %w", err))
		}
		repo = pg
		rt.readiness["database"] = pg
		rt.closers = append(rt.closers, pg.Close)
	default:
		logger.Info("opening sqlite repository", "db_path", cfg.Database.Path)
		lite, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
			return fail(fmt.Errorf("open sqlite repository: %w", err))
		}
		repo = lite
		rt.readiness["database"] = lite
		rt.closers = append(rt.closers, lite.Close)
	}

	var locker app.Locker
	if cfg.Locking.Backend == config.LockRedis {
		logger.Info("connecting redis locker")
		redisLocker, err := redislock.New(ctx, cfg.Locking.RedisURL, redislock.Options{
			LeaseTTL:    cfg.Locking.LeaseTTL(),
			WaitTimeout: cfg.Locking.WaitTimeout(),
		})
		if err != nil {
			logger.Error("redis locker failed", "err", err)
			return fail(fmt.Errorf("connect redis locker: %w", err))
		}
		locker = redisLocker
		rt.readiness["locker"] = redisLocker
		rt.closers = append(rt.closers, redisLocker.Close)
	}

	svc := app.NewService(repo, uuid.NewString, nil, app.ServiceConfig{
		MaxTreeNodes:    cfg.Tree.MaxNodes,
		SequenceRetries: cfg.Issues.SequenceRetries,
		IssuePrefix:     cfg.Issues.DisplayPrefix,
		Locker:          locker,
		Logger:          logger.Service(),
	})
	rt.adapter = servercommon.NewAppServiceAdapter(svc)
	logger.Debug("application service initialized", "driver", cfg.Database.Driver, "locking", cfg.Locking.Backend)
	return rt, nil
}
