package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/packrat/pinserver/pkg/ha"
	"github.com/packrat/pinserver/pkg/identity"
	"github.com/packrat/pinserver/pkg/service"
	"github.com/packrat/pinserver/pkg/store"
)

const envPrefix = "PINS"

// options is everything pinsd can be configured with.
type options struct {
	configFile string
	logLevel   string
	migrate    bool

	db   store.DatabaseConfig
	svc  service.Config
	auth identity.Config
	lock ha.LockConfig
}

// newOptions seeds every setting from the package defaults and environment.
func newOptions() *options {
	return &options{
		logLevel: "info",
		migrate:  true,
		db:       *store.DatabaseConfigFromEnv(),
		svc:      service.ConfigFromEnv(),
		auth:     identity.ConfigFromEnv(),
		lock:     ha.LockConfigFromEnv(),
	}
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configFile, "config", "c", "", "Configuration file (yaml) to read from")
	fs.StringVar(&o.logLevel, "log-level", o.logLevel, "Log level: debug, info, warn or error")
	fs.BoolVar(&o.migrate, "migrate", o.migrate, "Migrate the schema on startup")

	fs.StringVar(&o.svc.ListenAddr, "listen", o.svc.ListenAddr, "Address to listen on")
	fs.DurationVar(&o.svc.RequestTimeout, "request-timeout", o.svc.RequestTimeout, "Per-operation timeout, including the wait for a pool handle")
	fs.DurationVar(&o.svc.ShutdownTimeout, "shutdown-timeout", o.svc.ShutdownTimeout, "Graceful shutdown timeout")
	fs.Int64Var(&o.svc.MaxBodyBytes, "max-body-bytes", o.svc.MaxBodyBytes, "Maximum request body size")
	fs.StringSliceVar(&o.svc.AllowedOrigins, "cors-origins", o.svc.AllowedOrigins, "Allowed CORS origins")

	fs.StringVar(&o.db.Dialect, "db-dialect", o.db.Dialect, "Database dialect: postgres, mysql or sqlite")
	fs.StringVar(&o.db.Host, "db-host", o.db.Host, "Database host")
	fs.IntVar(&o.db.Port, "db-port", o.db.Port, "Database port")
	fs.StringVar(&o.db.User, "db-user", o.db.User, "Database user")
	fs.StringVar(&o.db.Password, "db-password", o.db.Password, "Database password")
	fs.StringVar(&o.db.Database, "db-name", o.db.Database, "Database name, or file path for sqlite")
	fs.StringVar(&o.db.SSLMode, "db-sslmode", o.db.SSLMode, "Postgres sslmode")
	fs.StringVar(&o.db.DSN, "db-dsn", o.db.DSN, "Connection string; overrides the other db-* settings")
	fs.IntVar(&o.db.PoolSize, "pool-size", o.db.PoolSize, "Number of database handles")

	fs.StringVar(&o.auth.Mode, "auth-mode", o.auth.Mode, "Caller identity: header, jwt or none")
	fs.StringVar(&o.auth.UserClaim, "jwt-user-claim", o.auth.UserClaim, "JWT claim holding the user name")
	fs.StringVar(&o.auth.PublicKeyPath, "jwt-public-key-path", o.auth.PublicKeyPath, "PEM RSA key verifying JWTs")
	fs.StringVar(&o.auth.Issuer, "jwt-issuer", o.auth.Issuer, "Expected JWT issuer")
	fs.StringVar(&o.auth.Audience, "jwt-audience", o.auth.Audience, "Expected JWT audience")

	fs.BoolVar(&o.lock.Enabled, "migration-lock-enabled", o.lock.Enabled, "Serialize migrations across replicas")
	fs.StringVar(&o.lock.Name, "migration-lock-name", o.lock.Name, "Migration lock key")
}

func (o *options) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(o.logLevel)); err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", o.logLevel, err)
	}
	return lvl, nil
}

// setAllConfig applies, in priority order, command line flags, PINS_*
// environment variables, the config file and the flag defaults. Environment
// variable names are the flag names upper-cased with dashes as underscores.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) { validTags[f.Name] = true })

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read configuration file %q: %w", c, err)
		}
		for _, key := range v.AllKeys() {
			if !validTags[key] {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		var value string
		switch f.Value.Type() {
		case "stringSlice":
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		case "duration":
			// Bare numbers are seconds, as in the package environment readers.
			value = v.GetString(f.Name)
			if isDigits(value) {
				value += "s"
			}
		default:
			value = v.GetString(f.Name)
		}
		if err := f.Value.Set(value); err != nil {
			flagErr = fmt.Errorf("set %s: %w", f.Name, err)
		}
	})
	return flagErr
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
