// Command nexusd runs the Nexus agent filesystem as a single long-lived
// process: content store, metadata façade, lock/revision service, ReBAC
// engine, namespace resolver, permission enforcer, search daemon, memory
// core, agent registry, and spending ledger all share one process and one
// SQL database, wired the way reva's storage-provider services share one
// config-driven process.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"

	"nexus/pkg/agent"
	"nexus/pkg/backend"
	_ "nexus/pkg/backend/local"
	"nexus/pkg/enforcer"
	"nexus/pkg/errtypes"
	"nexus/pkg/eventbus"
	"nexus/pkg/ledger"
	"nexus/pkg/lock"
	"nexus/pkg/memory"
	"nexus/pkg/metadata"
	"nexus/pkg/mount"
	"nexus/pkg/nxlog"
	"nexus/pkg/rebac"
	"nexus/pkg/search"
)

// Config is the top-level configuration for a nexusd process, decoded
// from a map[string]interface{} the way every pluggable component here
// is configured (pkg/lock.New, pkg/rebac.New, ...).
type Config struct {
	DatabasePath string                 `mapstructure:"database_path"`
	DataRoot     string                 `mapstructure:"data_root"`
	HMACKey      string                 `mapstructure:"hmac_key"`
	Backend      string                 `mapstructure:"backend"`
	Lock         map[string]interface{} `mapstructure:"lock"`
	CAS          map[string]interface{} `mapstructure:"cas"`
	Rebac        map[string]interface{} `mapstructure:"rebac"`
	Mount        map[string]interface{} `mapstructure:"mount"`
	Enforcer     map[string]interface{} `mapstructure:"enforcer"`
	Search       map[string]interface{} `mapstructure:"search"`
}

func defaultConfig() *Config {
	return &Config{
		DatabasePath: "nexus.db",
		DataRoot:     ".nexus-data",
		HMACKey:      "change-me-in-production",
		Backend:      "local",
	}
}

// Daemon bundles every wired component of a running Nexus process.
type Daemon struct {
	DB       *sql.DB
	Lock     *lock.Service
	CAS      backend.Backend
	Metadata *metadata.Store
	Rebac    *rebac.Engine
	Mount    *mount.Resolver
	Enforcer *enforcer.Enforcer
	Agents   *agent.Store
	Ledger   *ledger.Store
	Memory   *memory.Store
	Bus      *eventbus.Bus
	Search   *search.Daemon
}

// Wire constructs every component of the Nexus process from cfg and
// starts the background services (search daemon refresh loop).
func Wire(ctx context.Context, cfg *Config) (*Daemon, error) {
	db, err := sql.Open("sqlite3", cfg.DatabasePath)
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "nexusd", Err: err}
	}

	lockSvc, err := lock.New(cfg.Lock)
	if err != nil {
		return nil, err
	}

	casConfig := map[string]interface{}{"root_path": cfg.DataRoot}
	for k, v := range cfg.CAS {
		casConfig[k] = v
	}
	casBackend, err := backend.New(cfg.Backend, casConfig)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	md, err := metadata.New(db, lockSvc, bus)
	if err != nil {
		return nil, err
	}

	rebacEngine, err := rebac.New(cfg.Rebac, db, lockSvc, []byte(cfg.HMACKey))
	if err != nil {
		return nil, err
	}

	mountResolver, err := mount.New(cfg.Mount, lockSvc)
	if err != nil {
		return nil, err
	}

	enf, err := enforcer.New(cfg.Enforcer, rebacEngine, mountResolver, nil)
	if err != nil {
		return nil, err
	}

	agents, err := agent.New(db)
	if err != nil {
		return nil, err
	}

	ledgerStore, err := ledger.New(db)
	if err != nil {
		return nil, err
	}

	memStore, err := memory.New(db)
	if err != nil {
		return nil, err
	}

	searchDaemon, err := search.New(cfg.Search, search.Deps{Bus: bus})
	if err != nil {
		return nil, err
	}
	if err := searchDaemon.Startup(ctx); err != nil {
		return nil, err
	}

	return &Daemon{
		DB: db, Lock: lockSvc, CAS: casBackend, Metadata: md, Rebac: rebacEngine,
		Mount: mountResolver, Enforcer: enf, Agents: agents, Ledger: ledgerStore,
		Memory: memStore, Bus: bus, Search: searchDaemon,
	}, nil
}

// Shutdown releases background resources held by the daemon.
func (d *Daemon) Shutdown() {
	d.Search.Shutdown()
	d.DB.Close()
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	var m map[string]interface{}
	if err := toml.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if err := mapstructure.Decode(m, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nexusd: config error:", err)
		os.Exit(1)
	}

	logger := nxlog.New(os.Stderr, zerolog.InfoLevel)
	logger.Info().Str("database_path", cfg.DatabasePath).Str("data_root", cfg.DataRoot).Msg("starting nexusd")

	ctx := context.Background()
	d, err := Wire(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("wiring failed")
		os.Exit(1)
	}
	defer d.Shutdown()

	logger.Info().Msg("nexusd ready")
	select {}
}
