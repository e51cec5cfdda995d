package library

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Store drivers accepted by OpenStore.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverMongo    = "mongodb"
)

const (
	defaultDBFile   = "library.db"
	defaultDBName   = "library"
	defaultMongoURI = "mongodb://localhost:27017/"
)

// Config selects the record store and the ambient collaborators of a LibraryManager.
type Config struct {
	// Driver is one of DriverSQLite, DriverPostgres, DriverPgx or DriverMongo.
	Driver string
	// DSN is a file path for SQLite, a connection string for PostgreSQL,
	// or a URI for MongoDB.
	DSN string
	// Database is the MongoDB database name.
	Database string

	BcryptCost int
	Logger     *slog.Logger
	// Clock returns the current time; tests replace it.
	Clock func() time.Time
}

// DefaultConfig opens library.db in the working directory.
func DefaultConfig() Config {
	return Config{
		Driver:     DriverSQLite,
		DSN:        defaultDBFile,
		Database:   defaultDBName,
		BcryptCost: bcrypt.DefaultCost,
	}
}

// ConfigFromEnv overlays LIBRARY_DB_DRIVER, LIBRARY_DB_DSN and LIBRARY_DB_NAME
// on the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("LIBRARY_DB_DRIVER"); v != "" {
		cfg.Driver = strings.ToLower(v)
		if cfg.Driver == DriverMongo {
			cfg.DSN = defaultMongoURI
		}
	}
	if v := os.Getenv("LIBRARY_DB_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("LIBRARY_DB_NAME"); v != "" {
		cfg.Database = v
	}
	return cfg
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.DSN == "" {
		c.DSN = defaultDBFile
		if c.Driver == DriverMongo {
			c.DSN = defaultMongoURI
		}
	}
	if c.Database == "" {
		c.Database = defaultDBName
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// ParseLogLevel maps debug/info/warn/error to a slog level, defaulting to warn.
func ParseLogLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelWarn
	}
	return lvl
}
