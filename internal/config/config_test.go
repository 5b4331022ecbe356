package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
	tempDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (s *ConfigTestSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
}

func (s *ConfigTestSuite) writeConfig(body string) string {
	path := filepath.Join(s.tempDir, "tinct.yaml")
	require.NoError(s.T(), os.WriteFile(path, []byte(body), 0o644))
	return path
}

func (s *ConfigTestSuite) TestDefaults() {
	path := s.writeConfig("{}\n")
	cfg, err := Load(path)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), DefaultDatabasePath, cfg.Database.Path)
	assert.Equal(s.T(), BackendSQLite, cfg.Persistence.Backend)
	assert.Equal(s.T(), []string{DefaultRedisAddr}, cfg.Persistence.Redis.Addrs)
	assert.Equal(s.T(), "tinct", cfg.Persistence.Redis.Prefix)
	assert.Equal(s.T(), 8, cfg.Cache.MaxDocuments)
	assert.Empty(s.T(), cfg.Scripts.Dir)
	assert.GreaterOrEqual(s.T(), cfg.Workers, 1)
	assert.Equal(s.T(), "local", cfg.Logging.Env)
	assert.Equal(s.T(), "info", cfg.Logging.Level)
	assert.Empty(s.T(), cfg.Metrics.Addr)
}

func (s *ConfigTestSuite) TestFileValues() {
	path := s.writeConfig(`
database:
  path: /var/lib/tinct/cache.db
persistence:
  backend: redis
  redis:
    addrs: ["r1:6379", "r2:6379"]
    db: 3
    prefix: team
cache:
  max_documents: 32
scripts:
  dir: ./scripts
workers: 2
logging:
  env: production
  level: debug
metrics:
  addr: ":9090"
`)
	cfg, err := Load(path)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), "/var/lib/tinct/cache.db", cfg.Database.Path)
	assert.Equal(s.T(), BackendRedis, cfg.Persistence.Backend)
	assert.Equal(s.T(), []string{"r1:6379", "r2:6379"}, cfg.Persistence.Redis.Addrs)
	assert.Equal(s.T(), 3, cfg.Persistence.Redis.DB)
	assert.Equal(s.T(), "team", cfg.Persistence.Redis.Prefix)
	assert.Equal(s.T(), 32, cfg.Cache.MaxDocuments)
	assert.Equal(s.T(), "./scripts", cfg.Scripts.Dir)
	assert.Equal(s.T(), 2, cfg.Workers)
	assert.Equal(s.T(), "production", cfg.Logging.Env)
	assert.Equal(s.T(), "debug", cfg.Logging.Level)
	assert.Equal(s.T(), ":9090", cfg.Metrics.Addr)
}

func (s *ConfigTestSuite) TestEnvOverridesFile() {
	path := s.writeConfig("cache:\n  max_documents: 32\n")
	s.T().Setenv("TINCT_CACHE_MAX_DOCUMENTS", "4")
	s.T().Setenv("TINCT_PERSISTENCE_BACKEND", "none")

	cfg, err := Load(path)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 4, cfg.Cache.MaxDocuments)
	assert.Equal(s.T(), BackendNone, cfg.Persistence.Backend)
}

func (s *ConfigTestSuite) TestUnknownBackend() {
	path := s.writeConfig("persistence:\n  backend: etcd\n")
	_, err := Load(path)
	require.ErrorIs(s.T(), err, ErrUnknownBackend)
}

func (s *ConfigTestSuite) TestInvalidFile() {
	path := s.writeConfig("cache: [unterminated\n")
	_, err := Load(path)
	require.Error(s.T(), err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	valid := func() Config {
		return Config{
			Database:    DatabaseConfig{Path: "x.db"},
			Persistence: PersistenceConfig{Backend: BackendSQLite},
			Cache:       CacheConfig{MaxDocuments: 8},
			Workers:     1,
		}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.Cache.MaxDocuments = 0
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Database.Path = ""
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Persistence.Backend = BackendRedis
	assert.Error(t, cfg.Validate(), "redis needs addrs")

	cfg.Persistence.Redis.Addrs = []string{"localhost:6379"}
	assert.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.Persistence.Backend = BackendNone
	cfg.Database.Path = ""
	assert.NoError(t, cfg.Validate())
}
