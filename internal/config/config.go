package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

type Mode string

const (
	ModeSingleUser Mode = "single-user"
	ModeMultiUser  Mode = "multi-user"
	ModeKucalc     Mode = "kucalc"
	ModeKubernetes Mode = "kubernetes"
)

var Modes = []Mode{ModeSingleUser, ModeMultiUser, ModeKucalc, ModeKubernetes}

var (
	ErrModeRequired = errors.New("config: mode is required")
	ErrInvalidMode  = errors.New("config: invalid mode")
	ErrTLSPair      = errors.New("config: --https-key and --https-cert must be given together")
)

// Action is a one-shot maintenance task requested on the command line.
type Action string

const (
	ActionNone            Action = ""
	ActionPasswd          Action = "passwd"
	ActionStripeSync      Action = "stripe-sync"
	ActionDeleteExpired   Action = "delete-expired"
	ActionBlobMaintenance Action = "blob-maintenance"
	ActionUpdateStats     Action = "update-stats"
)

// Options is the resolved configuration. It is built once by Parse and
// never modified afterwards.
type Options struct {
	Mode Mode
	All  bool

	WebsocketServer bool
	ProxyServer     bool
	NextServer      bool
	Mentions        bool

	HTTPSKey       string
	HTTPSCert      string
	BehindTLSProxy bool

	AgentPort int
	Hostname  string
	Port      int
	BasePath  string

	DatabaseNodes        string
	Keyspace             string
	DBConcurrentWarn     int
	UpdateDatabaseSchema bool

	Passwd          string
	StripeSync      bool
	UpdateStats     bool
	DeleteExpired   bool
	BlobMaintenance bool

	Test          bool
	Personal      bool
	NoIdleTimeout bool
	RedisAddr     string
	User          string

	LogLevel       string
	LogFile        string
	StripeAPIBase  string
	SettingsPrefix string

	VacuumInterval     time.Duration
	VacuumMinFreeBytes int64
	VacuumMinFreeRatio float64
}

func newFlagSet(o *Options, env Env) *pflag.FlagSet {
	defaultDB := strings.TrimSpace(env.PGHost)
	if defaultDB == "" {
		defaultDB = "data"
	}

	modes := make([]string, 0, len(Modes))
	for _, m := range Modes {
		modes = append(modes, string(m))
	}

	fs := pflag.NewFlagSet("cocalc-hub-server", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Var(newModeValue(&o.Mode), "mode", fmt.Sprintf("REQUIRED mode in which to run (%s) - or set COCALC_MODE", strings.Join(modes, ", ")))
	fs.BoolVar(&o.All, "all", false, "run all servers (websocket, proxy, next), handle mentions and update the db schema on startup")
	fs.BoolVar(&o.WebsocketServer, "websocket-server", false, "run the websocket server")
	fs.BoolVar(&o.ProxyServer, "proxy-server", false, "run the proxy server")
	fs.BoolVar(&o.NextServer, "next-server", false, "run the next server (landing pages, share server, etc.)")
	fs.StringVar(&o.HTTPSKey, "https-key", "", "serve over https; key filename (requires --https-cert)")
	fs.StringVar(&o.HTTPSCert, "https-cert", "", "serve over https; cert filename (requires --https-key)")
	fs.IntVar(&o.AgentPort, "agent-port", 0, "port for HAProxy agent-check (0: do not start)")
	fs.StringVar(&o.Hostname, "hostname", "127.0.0.1", "host of interface to bind to")
	fs.StringVar(&o.DatabaseNodes, "database-nodes", defaultDB, "database location")
	fs.StringVar(&o.Keyspace, "keyspace", "smc", "database name to use")
	fs.StringVar(&o.Passwd, "passwd", "", "reset password of the account with the given email address")
	fs.BoolVar(&o.UpdateDatabaseSchema, "update-database-schema", false, "update the database schema on startup")
	fs.BoolVar(&o.StripeSync, "stripe-sync", false, "sync stripe customers to the database for all accounts with a stripe id")
	fs.BoolVar(&o.UpdateStats, "update-stats", false, "calculate the statistics for the /stats endpoint and store them")
	fs.BoolVar(&o.DeleteExpired, "delete-expired", false, "delete expired data from the database")
	fs.BoolVar(&o.BlobMaintenance, "blob-maintenance", false, "archive old blobs to tarballs")
	fs.BoolVar(&o.Mentions, "mentions", false, "periodically handle mentions")
	fs.BoolVar(&o.Test, "test", false, "terminate after setting up the hub")
	fs.IntVar(&o.DBConcurrentWarn, "db-concurrent-warn", 300, "warn if the number of concurrent db requests exceeds this")
	fs.BoolVar(&o.Personal, "personal", false, "run VERY UNSAFE: there is only one user and no authentication")
	fs.BoolVar(&o.BehindTLSProxy, "behind-tls-proxy", env.BehindTLSProxy, "TLS is terminated by a proxy in front of the hub")
	fs.StringVar(&o.RedisAddr, "redis", env.RedisAddr, "redis address for mirroring hub registration (empty: disabled)")
	return fs
}

// Parse resolves command line arguments against the environment.
func Parse(args []string, env Env) (Options, error) {
	var o Options
	fs := newFlagSet(&o, env)
	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}

	if o.Mode == "" {
		mode := Mode(strings.TrimSpace(env.Mode))
		if mode == "" {
			return Options{}, fmt.Errorf("%w: pass --mode or set COCALC_MODE to one of %v", ErrModeRequired, Modes)
		}
		if !slices.Contains(Modes, mode) {
			return Options{}, fmt.Errorf("%w: COCALC_MODE=%q", ErrInvalidMode, mode)
		}
		o.Mode = mode
	}

	if o.All {
		o.WebsocketServer = true
		o.ProxyServer = true
		o.NextServer = true
		o.Mentions = true
		o.UpdateDatabaseSchema = true
	}

	if (o.HTTPSKey == "") != (o.HTTPSCert == "") {
		return Options{}, ErrTLSPair
	}

	o.Port = env.Port
	o.BasePath = normalizeBasePath(env.BasePath)
	o.NoIdleTimeout = env.NoIdleTimeout
	o.User = env.User
	o.LogLevel = env.LogLevel
	o.LogFile = env.LogFile
	o.StripeAPIBase = env.StripeAPIBase
	o.SettingsPrefix = env.SettingsPrefix
	if env.VacuumIntervalHours > 0 {
		o.VacuumInterval = time.Duration(env.VacuumIntervalHours) * time.Hour
	}
	o.VacuumMinFreeBytes = int64(max(env.VacuumMinFreeMB, 0)) << 20
	o.VacuumMinFreeRatio = min(max(env.VacuumMinFreeRatio, 0), 0.95)
	return o, nil
}

// Usage returns the flag help text.
func Usage(env Env) string {
	var o Options
	return newFlagSet(&o, env).FlagUsages()
}

func (o Options) TLS() bool { return o.HTTPSKey != "" && o.HTTPSCert != "" }

func (o Options) ServesAnything() bool {
	return o.WebsocketServer || o.ProxyServer || o.NextServer
}

func (o Options) DatabasePath() string {
	return filepath.Join(o.DatabaseNodes, o.Keyspace+".db")
}

// MaintenanceAction returns the one-shot action to run instead of serving,
// honoring the precedence passwd, stripe-sync, delete-expired,
// blob-maintenance, update-stats.
func (o Options) MaintenanceAction() Action {
	switch {
	case o.Passwd != "":
		return ActionPasswd
	case o.StripeSync:
		return ActionStripeSync
	case o.DeleteExpired:
		return ActionDeleteExpired
	case o.BlobMaintenance:
		return ActionBlobMaintenance
	case o.UpdateStats:
		return ActionUpdateStats
	default:
		return ActionNone
	}
}

func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return "/"
	}
	return "/" + strings.Trim(p, "/")
}

type modeValue struct{ p *Mode }

func newModeValue(p *Mode) *modeValue { return &modeValue{p: p} }

func (v *modeValue) String() string {
	if v.p == nil {
		return ""
	}
	return string(*v.p)
}

func (v *modeValue) Set(s string) error {
	m := Mode(strings.TrimSpace(s))
	if !slices.Contains(Modes, m) {
		return fmt.Errorf("%w: %q (choose from %v)", ErrInvalidMode, s, Modes)
	}
	*v.p = m
	return nil
}

func (v *modeValue) Type() string { return "mode" }
