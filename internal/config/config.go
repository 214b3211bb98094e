package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"assetforge/internal/schema"
)

const EnvPrefix = "ASSETFORGE"

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Seed      SeedConfig      `mapstructure:"seed"`
	Files     FilesConfig     `mapstructure:"files"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type AppConfig struct {
	Env string `mapstructure:"env"` // production | development
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DBConfig struct {
	Driver       string `mapstructure:"driver"` // postgres | mysql | sqlite | sqlserver
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type SeedConfig struct {
	Dir          string `mapstructure:"dir"`           // *.dsl с определениями
	DropdownsDir string `mapstructure:"dropdowns_dir"` // YAML-каталоги элементов списков
}

type FilesConfig struct {
	Root string `mapstructure:"root"`
}

type CacheConfig struct {
	TTL    time.Duration `mapstructure:"ttl"`
	Tokens string        `mapstructure:"tokens"` // memory | redis
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"` // пусто: без аутентификации
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("db.driver", schema.SQLite)
	v.SetDefault("db.dsn", "assetforge.db")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("seed.dir", "")
	v.SetDefault("seed.dropdowns_dir", "")
	v.SetDefault("files.root", "uploads")
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("cache.tokens", "memory")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 10)
}

// флаг -> ключ конфигурации
var flagKeys = map[string]string{
	"port":          "server.port",
	"env":           "app.env",
	"db-driver":     "db.driver",
	"db-dsn":        "db.dsn",
	"seed-dir":      "seed.dir",
	"dropdowns-dir": "seed.dropdowns_dir",
	"files-root":    "files.root",
	"cache-tokens":  "cache.tokens",
	"redis-addr":    "redis.addr",
}

// RegisterFlags объявляет флаги сервера. Значение флага учитывается,
// только если он задан явно.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to config file (json, yaml, toml)")
	fs.String("env-file", ".env", "Path to .env file (optional)")
	fs.String("port", "", "HTTP port")
	fs.String("env", "", "Application environment (production, development)")
	fs.String("db-driver", "", "Database driver (postgres, mysql, sqlite, sqlserver)")
	fs.String("db-dsn", "", "Database DSN")
	fs.String("seed-dir", "", "Directory with *.dsl seed files")
	fs.String("dropdowns-dir", "", "Directory with YAML dropdown catalogs")
	fs.String("files-root", "", "Root directory of document blobs")
	fs.String("cache-tokens", "", "Invalidation token store (memory, redis)")
	fs.String("redis-addr", "", "Redis address")
}

type Options struct {
	File    string         // конфиг-файл; пусто: только умолчания, окружение и флаги
	EnvFile string         // .env; отсутствие файла не ошибка
	Flags   *pflag.FlagSet // флаги из RegisterFlags; может быть nil
}

// Load: умолчания -> файл -> .env -> окружение ASSETFORGE_* -> флаги.
func Load(opts Options) (Config, error) {
	if opts.Flags != nil {
		if f := opts.Flags.Lookup("config"); f != nil && f.Changed {
			opts.File = f.Value.String()
		}
		if f := opts.Flags.Lookup("env-file"); f != nil && (f.Changed || opts.EnvFile == "") {
			opts.EnvFile = f.Value.String()
		}
	}
	if opts.EnvFile != "" {
		if _, err := os.Stat(opts.EnvFile); err == nil {
			// уже заданные переменные окружения не перекрываются
			if err := godotenv.Load(opts.EnvFile); err != nil {
				return Config{}, fmt.Errorf("failed to load %s: %w", opts.EnvFile, err)
			}
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", opts.File, err)
		}
	}
	if opts.Flags != nil {
		for name, key := range flagKeys {
			f := opts.Flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			v.Set(key, f.Value.String())
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if d := schema.NormalizeDriver(c.DB.Driver); d != "" {
		c.DB.Driver = d
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.DB.Driver {
	case schema.Postgres, schema.MySQL, schema.SQLite, schema.SQLServer:
	default:
		errs = append(errs, fmt.Errorf("db.driver: unsupported driver %q", c.DB.Driver))
	}
	if strings.TrimSpace(c.DB.DSN) == "" {
		errs = append(errs, errors.New("db.dsn: required"))
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		errs = append(errs, errors.New("server.port: required"))
	}
	switch c.Cache.Tokens {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr: required when cache.tokens is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.tokens: unknown store %q", c.Cache.Tokens))
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, errors.New("ratelimit.rps: must not be negative"))
	}
	return errors.Join(errs...)
}
