package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, DriverBadger, c.StoreDriver)
	require.Equal(t, uint32(100), c.DefaultCapacity)
	require.Equal(t, time.Second, c.GateTick)
	require.Equal(t, 5*time.Second, c.GateRecheckTimeout)
	require.Equal(t, 15*time.Second, c.CatalogTick)
	require.False(t, c.EventsEnabled)
	require.Equal(t, "logs/rsvp.log", c.EventLogPath)
}

func TestLoad_MySQLDriverNeedsDatabase(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", DriverMySQL)
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_NAME", "liveroom")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "3306", c.DBPort)
	require.Equal(t, "liveroom", c.DBName)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	t.Setenv("STORE_DRIVER", "etcd")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("STORE_DRIVER", DriverRedis)
	t.Setenv("DEFAULT_CAPACITY", "-1")
	_, err = Load()
	require.Error(t, err)
}

func TestLoad_ZeroDefaultCapacityMeansUncapped(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("DEFAULT_CAPACITY", "0")

	c, err := Load()
	require.NoError(t, err)
	require.Zero(t, c.DefaultCapacity)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_BOOL", "Yes")
	t.Setenv("X_INT", "nope")
	t.Setenv("X_DUR", "250ms")
	t.Setenv("X_LIST", " get, head ,,")

	require.True(t, envBool("X_BOOL", false))
	require.Equal(t, 7, envInt("X_INT", 7))
	require.Equal(t, 250*time.Millisecond, envDur("X_DUR", time.Second))
	require.Equal(t, []string{"get", "head"}, envList("X_LIST", ""))
}

func TestLoadRateLimitConfig_Clamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "1m")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	c := LoadRateLimitConfig()
	require.Equal(t, 1, c.Capacity)
	require.Equal(t, 5*time.Minute, c.TTL)
}

func TestLoadCacheConfig(t *testing.T) {
	t.Setenv("CACHE_METHODS", "get,head")
	c := LoadCacheConfig()
	require.True(t, c.Methods["GET"])
	require.True(t, c.Methods["HEAD"])
	require.Equal(t, 5*time.Second, c.TTL)
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("DOTENV_A=file\nDOTENV_B=file\n"), 0o600))
	t.Setenv("DOTENV_A", "env")
	t.Setenv("DOTENV_B", "")
	require.NoError(t, os.Unsetenv("DOTENV_B"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	require.Equal(t, "env", os.Getenv("DOTENV_A"))
	require.Equal(t, "file", os.Getenv("DOTENV_B"))
	require.NoError(t, os.Unsetenv("DOTENV_B"))
}
