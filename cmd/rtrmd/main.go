package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bbque/rtrm/pkg/log"
	"github.com/bbque/rtrm/pkg/manager"
	"github.com/bbque/rtrm/pkg/metrics"
	"github.com/bbque/rtrm/pkg/platform"
	"github.com/bbque/rtrm/pkg/security"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rtrmd",
	Short: "RTRM - run-time resource manager daemon",
	Long: `rtrmd arbitrates compute/memory/accelerator resources among execution
contexts (EXCs) on one host, federating with sibling instances over the
Agent RPC surface. There is no cluster consensus log: each instance holds
only in-memory, re-derivable state and peer discovery re-converges from
scratch on restart.`,
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"rtrmd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.Bool("daemon", false, "run in the foreground as the resource manager daemon")
	flags.String("config", "/etc/rtrm/rtrmd.yaml", "path to the YAML configuration file")
	flags.String("plugins-dir", "", "directory to scan for scheduler policy plugins (reserved, not yet loaded)")
	flags.Bool("tests", false, "run the built-in self-test harness instead of the daemon (reserved)")
	flags.Int("uid", 0, "drop privileges to this uid before the manager starts")
	flags.Int("gid", 0, "drop privileges to this gid before the manager starts")
	flags.String("lockfile", "/var/run/rtrmd.lock", "path to the daemon's lock file")
	flags.String("rundir", "/var/run/rtrm", "runtime directory for sockets and transient state")

	cobra.OnInitialize(initLogging)
}

// initLogging configures a sane default logger before --config has been
// read; runDaemon re-initializes it once Logging.Level is known.
func initLogging() {
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
}

// yamlConfig is the on-disk shape of --config, mirroring the INI sections of
// spec.md §6 one-for-one rather than inventing a new schema.
type yamlConfig struct {
	SysID      int    `yaml:"sys_id"`
	InstanceID string `yaml:"instance_id"`
	RecipesDir string `yaml:"recipes_dir"`

	DistributedManager struct {
		StartAddress          string `yaml:"start_address"`
		EndAddress            string `yaml:"end_address"`
		LocalAddress          string `yaml:"local_address"`
		DiscoverPeriodSeconds int    `yaml:"discover_period_seconds"`
		PingPeriodSeconds     int    `yaml:"ping_period_seconds"`
		Hierarchical          bool   `yaml:"hierarchical"`
	} `yaml:"distributed_manager"`

	AgentProxy struct {
		Port int `yaml:"port"`
	} `yaml:"agent_proxy"`

	Scheduler struct {
		Policy string `yaml:"policy"`
	} `yaml:"scheduler"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	ContainerdSocket string `yaml:"containerd_socket"`
	MetricsAddr      string `yaml:"metrics_addr"`
}

func loadConfig(path string) (manager.Config, yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return manager.Config{}, yamlConfig{}, fmt.Errorf("rtrmd: read config %s: %w", path, err)
	}
	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return manager.Config{}, yamlConfig{}, fmt.Errorf("rtrmd: parse config %s: %w", path, err)
	}
	cfg := manager.Config{
		SysID:      y.SysID,
		InstanceID: y.InstanceID,
		RecipesDir: y.RecipesDir,
		DistributedManager: manager.DistributedManagerConfig{
			StartAddress:          y.DistributedManager.StartAddress,
			EndAddress:            y.DistributedManager.EndAddress,
			LocalAddress:          y.DistributedManager.LocalAddress,
			DiscoverPeriodSeconds: y.DistributedManager.DiscoverPeriodSeconds,
			PingPeriodSeconds:     y.DistributedManager.PingPeriodSeconds,
			Hierarchical:          y.DistributedManager.Hierarchical,
		},
		AgentProxy: manager.AgentProxyConfig{Port: y.AgentProxy.Port},
		Scheduler:  manager.SchedulerConfig{Policy: y.Scheduler.Policy},
		Logging:    manager.LoggingConfig{Level: y.Logging.Level},
	}
	return cfg, y, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	daemon, _ := flags.GetBool("daemon")
	configPath, _ := flags.GetString("config")
	pluginsDir, _ := flags.GetString("plugins-dir")
	runTests, _ := flags.GetBool("tests")
	runDir, _ := flags.GetString("rundir")

	logger := log.WithComponent("cmd")
	if pluginsDir != "" {
		logger.Info().Str("plugins_dir", pluginsDir).Msg("plugin directory configured (dynamic plugin loading is out of scope, ignored)")
	}
	if runTests {
		logger.Info().Msg("self-test harness requested (out of scope, ignored)")
	}
	if !daemon {
		logger.Warn().Msg("--daemon not set; running in the foreground anyway (there is no separate background mode)")
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("rtrmd: create rundir %s: %w", runDir, err)
	}

	if err := acquireLockfile(cmd); err != nil {
		return err
	}
	if err := dropPrivileges(cmd); err != nil {
		return err
	}

	cfg, y, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Logging.Level != "" {
		log.Init(log.Config{Level: log.Level(cfg.Logging.Level), JSONOutput: true})
		logger = log.WithComponent("cmd")
	}

	ca := security.NewCertAuthority()
	if err := ca.Initialize(); err != nil {
		return fmt.Errorf("rtrmd: initialize certificate authority: %w", err)
	}

	tree := manager.NewResourceTree()
	broker := manager.NewEventBroker()
	proxy, err := platform.NewContainerdProxy(y.ContainerdSocket, tree, broker, cfg.SysID)
	if err != nil {
		return fmt.Errorf("rtrmd: connect to containerd: %w", err)
	}
	defer proxy.Close()

	m, err := manager.New(cfg, tree, broker, proxy, ca)
	if err != nil {
		return fmt.Errorf("rtrmd: wire manager: %w", err)
	}

	if cfg.RecipesDir != "" {
		if err := m.LoadRecipes(cfg.RecipesDir); err != nil {
			return fmt.Errorf("rtrmd: load recipes: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("rtrmd: start manager: %w", err)
	}

	if y.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(y.MetricsAddr, mux); err != nil {
				logger.Warn().Err(err).Msg("metrics server exited")
			}
		}()
	}

	logger.Info().Str("instance_id", cfg.InstanceID).Msg("rtrmd running, waiting for shutdown signal")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	m.Stop()
	return nil
}
