// Package database opens the backend selected by STORE_DRIVER and hands
// it to the rest of the service as a store.Store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/liveroom-admission/internal/config"
	"github.com/iliyamo/liveroom-admission/internal/store"
)

// DSN builds the MySQL connection string for c.
func DSN(c config.Config) string {
	mc := mysql.NewConfig()
	mc.User = c.DBUser
	mc.Passwd = c.DBPass
	mc.Net = "tcp"
	mc.Addr = c.DBHost + ":" + c.DBPort
	mc.DBName = c.DBName
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// OpenMySQL connects to MySQL and verifies the connection.
func OpenMySQL(ctx context.Context, c config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", DSN(c))
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenStore returns the document store chosen by c.StoreDriver.  The
// redis driver reuses rdb, which must then be non-nil.  Closing the
// returned store releases everything OpenStore opened.
func OpenStore(ctx context.Context, c config.Config, rdb *redis.Client, log zerolog.Logger) (store.Store, error) {
	log = log.With().Str("driver", c.StoreDriver).Logger()
	switch c.StoreDriver {
	case config.DriverBadger:
		s, err := store.OpenBadger(c.BadgerPath, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis store selected but redis is unreachable")
		}
		return store.NewRedisStore(rdb, c.RedisNamespace, log), nil
	case config.DriverMySQL:
		db, err := OpenMySQL(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		s := store.NewMySQLStore(db, c.StorePollInterval, log)
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return &ownedSQLStore{MySQLStore: s, db: db}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", c.StoreDriver)
}

// ownedSQLStore closes the pool together with the store.
type ownedSQLStore struct {
	*store.MySQLStore
	db *sql.DB
}

func (s *ownedSQLStore) Close() error {
	err := s.MySQLStore.Close()
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}
