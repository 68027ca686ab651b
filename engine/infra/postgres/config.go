package postgres

import (
	"time"

	"github.com/taskdeck/taskdeck/pkg/config"
)

// Config holds PostgreSQL connection settings for the driver.
// ConnString must be a DSN understood by pgx; the remaining host fields are
// used for logging and metric labels only.
type Config struct {
	ConnString         string
	Host               string
	Port               string
	DBName             string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	PingTimeout        time.Duration
	HealthCheckTimeout time.Duration
	HealthCheckPeriod  time.Duration
	ConnectTimeout     time.Duration
}

// ConfigFromApp maps the application database section onto driver settings.
func ConfigFromApp(db *config.DatabaseConfig) *Config {
	return &Config{
		ConnString:      db.DSN(),
		Host:            db.Host,
		Port:            db.Port,
		DBName:          db.DBName,
		SSLMode:         db.SSLMode,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
		PingTimeout:     db.PingTimeout,
	}
}
