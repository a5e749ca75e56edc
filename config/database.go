package config

import "strings"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"streamauth"`
	Password string `env:"PASSWORD"                envDefault:"streamauth"`
	Name     string `env:"NAME"                    envDefault:"streamauth"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// MaxOpenConns bounds the shared pool used by every request.
	MaxOpenConns int `env:"MAX_OPEN_CONNS" envDefault:"20"`
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration. Redis only backs the login
// throttle; leaving URI empty (and cluster/sentinel off) disables it.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}

// Sanitize trims addresses and drops empty node entries.
func (r *RedisConfig) Sanitize() {
	r.URI = strings.TrimSpace(r.URI)
	r.SentinelNodes = compact(r.SentinelNodes)
	r.ClusterNodes = compact(r.ClusterNodes)
	if r.UseCluster && len(r.ClusterNodes) == 0 {
		r.UseCluster = false
	}
	if r.UseSentinel && len(r.SentinelNodes) == 0 {
		r.UseSentinel = false
	}
}

// Enabled reports whether any Redis topology is configured.
func (r *RedisConfig) Enabled() bool {
	return r.URI != "" || r.UseCluster || r.UseSentinel
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
