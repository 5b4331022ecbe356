// Package redis persists classification streams in Redis through rueidis,
// for workspaces that share a cache across processes or machines.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"github.com/jward/tinct/internal/cache"
	"github.com/jward/tinct/internal/text"
)

// Compile-time checks.
var (
	_ cache.Persistence   = (*Store)(nil)
	_ cache.BatchWriter   = (*Store)(nil)
	_ cache.StreamDeleter = (*Store)(nil)
)

const (
	fieldChecksum = "checksum"
	fieldData     = "data"

	// DefaultPrefix namespaces every key written by the store.
	DefaultPrefix = "tinct"
)

// Config holds connection parameters for a Redis store.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Store implements cache.Persistence via rueidis. Each stream is one hash
// holding the hex checksum and the payload.
type Store struct {
	client rueidis.Client
	prefix string
}

// NewStore creates a Redis store via rueidis.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return newStore(client, cfg.Prefix), nil
}

func newStore(client rueidis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	cmd := s.client.B().Ping().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for redis: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

func (s *Store) do(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
	return s.client.Do(ctx, cmd)
}

func (s *Store) b() rueidis.Builder {
	return s.client.B()
}

// streamKey builds prefix:stream:name:len(project):project:path. The name
// comes first so a purge can match every stream of one name. The length
// keeps a ':' in the project from shifting into the path.
func (s *Store) streamKey(key text.DocumentKey, name string) string {
	return s.projectPrefix(key.Project, name) + key.Path
}

func (s *Store) projectPrefix(project, name string) string {
	return fmt.Sprintf("%s:stream:%s:%d:%s:", s.prefix, name, len(project), project)
}

func (s *Store) metaKey(key string) string {
	return s.prefix + ":meta:" + key
}

// namePattern matches every stream key for name.
func (s *Store) namePattern(name string) string {
	return s.prefix + ":stream:" + escapeGlob(name) + ":*"
}

// projectPattern matches every stream key for name within project.
func (s *Store) projectPattern(project, name string) string {
	return escapeGlob(s.projectPrefix(project, name)) + "*"
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
