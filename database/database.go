// Copyright (c) 2018 cloud-spin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialect names a supported database backend.
type Dialect string

const (
	// DialectMySQL is the default backend.
	DialectMySQL Dialect = "mysql"

	// DialectPostgres uses PostgreSQL through pgx.
	DialectPostgres Dialect = "postgres"

	// DialectSQLite uses a pure Go SQLite driver. Name is the database path.
	DialectSQLite Dialect = "sqlite"
)

const (
	// DefaultPoolMax holds the default maximum number of open connections.
	DefaultPoolMax = 5

	// DefaultAcquireTimeout bounds how long an operation waits for a connection.
	DefaultAcquireTimeout = 30 * time.Second

	// DefaultIdleTimeout holds how long a connection may stay idle before it is released.
	DefaultIdleTimeout = 10 * time.Second
)

// ErrClosed is returned by operations on a handle whose pool was released.
var ErrClosed = errors.New("database handle is closed")

// Config holds the connection and pool settings of a Handle.
type Config struct {
	Dialect  Dialect
	Host     string
	Port     int
	Name     string
	User     string
	Password string

	// PoolMax bounds the number of open connections. Idle connections are
	// released after IdleTimeout, so an unused pool shrinks to zero.
	PoolMax int

	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
}

func (c *Config) applyDefaults() {
	if c.Dialect == "" {
		c.Dialect = DialectMySQL
	}
	if c.PoolMax <= 0 {
		c.PoolMax = DefaultPoolMax
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
}

// Handle wraps the process wide connection pool.
type Handle struct {
	db             *gorm.DB
	sqlDB          *sql.DB
	acquireTimeout time.Duration

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// Open creates the connection pool described by config. It does not contact
// the database: connections are established lazily on first use.
func Open(config Config) (*Handle, error) {
	config.applyDefaults()

	dialector, err := newDialector(config)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}

	sqlDB.SetMaxOpenConns(config.PoolMax)
	sqlDB.SetMaxIdleConns(config.PoolMax)
	sqlDB.SetConnMaxIdleTime(config.IdleTimeout)

	return &Handle{
		db:             db,
		sqlDB:          sqlDB,
		acquireTimeout: config.AcquireTimeout,
	}, nil
}

func newDialector(config Config) (gorm.Dialector, error) {
	switch config.Dialect {
	case DialectMySQL:
		return mysql.New(mysql.Config{
			DSN:                       mysqlDSN(config),
			SkipInitializeWithVersion: true,
		}), nil
	case DialectPostgres:
		return postgres.New(postgres.Config{DSN: postgresDSN(config)}), nil
	case DialectSQLite:
		if config.Name == "" {
			return nil, errors.New("sqlite database path is required")
		}
		return sqlite.Open(config.Name), nil
	default:
		return nil, fmt.Errorf("unsupported database dialect: %s", config.Dialect)
	}
}

func mysqlDSN(config Config) string {
	cfg := mysqldriver.NewConfig()
	cfg.User = config.User
	cfg.Passwd = config.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	cfg.DBName = config.Name
	cfg.ParseTime = true
	cfg.Timeout = config.AcquireTimeout
	return cfg.FormatDSN()
}

func postgresDSN(config Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable connect_timeout=%d",
		config.Host, config.Port, config.User, config.Password, config.Name,
		int(config.AcquireTimeout.Seconds()))
}

// Authenticate checks the database is reachable, waiting at most the acquire
// timeout for a connection.
func (h *Handle) Authenticate(ctx context.Context) error {
	done, err := h.AuthenticateAsync(ctx)
	if err != nil {
		return err
	}
	return <-done
}

// AuthenticateAsync starts a ping and returns without waiting for it.
// A non-nil error means the handle cannot be used at all; otherwise the ping
// result is delivered on the returned channel.
func (h *Handle) AuthenticateAsync(ctx context.Context) (<-chan error, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.sqlDB == nil || h.closed {
		return nil, ErrClosed
	}

	done := make(chan error, 1)
	go func() {
		pingCtx, cancel := context.WithTimeout(ctx, h.acquireTimeout)
		defer cancel()

		if err := h.sqlDB.PingContext(pingCtx); err != nil {
			done <- fmt.Errorf("database ping failed: %w", err)
			return
		}
		done <- nil
	}()

	return done, nil
}

// Close releases the pool. Only the first call closes it; later calls return
// the first result.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()

		h.closeErr = h.sqlDB.Close()
	})
	return h.closeErr
}

// DB returns the gorm handle bound to ctx.
func (h *Handle) DB(ctx context.Context) *gorm.DB {
	return h.db.WithContext(ctx)
}

// SQLDB returns the underlying pool, used for statistics collection.
func (h *Handle) SQLDB() *sql.DB {
	return h.sqlDB
}
