package redis

import (
	"context"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/redis/rueidis"

	"github.com/jward/tinct/internal/cache"
	"github.com/jward/tinct/internal/text"
)

// ReadChecksum returns the checksum stored with a stream. A malformed
// checksum field reads as absent.
func (s *Store) ReadChecksum(ctx context.Context, key text.DocumentKey, name string) (text.Checksum, bool, error) {
	cmd := s.b().Hget().Key(s.streamKey(key, name)).Field(fieldChecksum).Build()
	raw, err := s.do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return text.Checksum{}, false, nil
		}
		return text.Checksum{}, false, fmt.Errorf("read checksum %s: %w", key, err)
	}
	cs, err := text.ParseChecksum(raw)
	if err != nil {
		return text.Checksum{}, false, nil
	}
	return cs, true, nil
}

// ReadStream fetches checksum and payload in one HMGET and returns the
// payload only when it was written for expected.
func (s *Store) ReadStream(ctx context.Context, key text.DocumentKey, name string, expected text.Checksum) ([]byte, bool, error) {
	cmd := s.b().Hmget().Key(s.streamKey(key, name)).Field(fieldChecksum, fieldData).Build()
	msgs, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, false, fmt.Errorf("read stream %s: %w", key, err)
	}
	if len(msgs) != 2 || msgs[0].IsNil() || msgs[1].IsNil() {
		return nil, false, nil
	}

	raw, err := msgs[0].ToString()
	if err != nil {
		return nil, false, nil
	}
	cs, err := text.ParseChecksum(raw)
	if err != nil || cs != expected {
		return nil, false, nil
	}

	data, err := msgs[1].ToString()
	if err != nil {
		return nil, false, nil
	}
	return []byte(data), true, nil
}

// WriteStream sets both fields in a single HSET so readers never observe a
// payload paired with another write's checksum.
func (s *Store) WriteStream(ctx context.Context, key text.DocumentKey, name string, data []byte, checksum text.Checksum) error {
	if err := s.do(ctx, s.hset(cache.Stream{Key: key, Name: name, Checksum: checksum, Data: data})).Error(); err != nil {
		return fmt.Errorf("write stream %s: %w", key, err)
	}
	return nil
}

// WriteStreams pipelines one HSET per stream in a single DoMulti round-trip.
func (s *Store) WriteStreams(ctx context.Context, streams []cache.Stream) error {
	if len(streams) == 0 {
		return nil
	}

	cmds := make([]rueidis.Completed, len(streams))
	for i, st := range streams {
		cmds[i] = s.hset(st)
	}

	results := s.client.DoMulti(ctx, cmds...)
	for i, res := range results {
		if err := res.Error(); err != nil {
			return fmt.Errorf("write streams: %s: %w", streams[i].Key, err)
		}
	}
	return nil
}

func (s *Store) hset(st cache.Stream) rueidis.Completed {
	return s.b().Hset().Key(s.streamKey(st.Key, st.Name)).FieldValue().
		FieldValue(fieldChecksum, hex.EncodeToString(st.Checksum[:])).
		FieldValue(fieldData, string(st.Data)).
		Build()
}

// DeleteStream removes one stream.
func (s *Store) DeleteStream(ctx context.Context, key text.DocumentKey, name string) error {
	cmd := s.b().Del().Key(s.streamKey(key, name)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("delete stream %s: %w", key, err)
	}
	return nil
}

// Purge deletes every stream with the given name and returns how many keys
// were removed.
func (s *Store) Purge(ctx context.Context, name string) (int64, error) {
	keys, err := s.scan(ctx, s.namePattern(name))
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", name, err)
	}

	var deleted int64
	for start := 0; start < len(keys); start += 100 {
		end := min(start+100, len(keys))
		cmd := s.b().Del().Key(keys[start:end]...).Build()
		n, err := s.do(ctx, cmd).AsInt64()
		if err != nil {
			return deleted, fmt.Errorf("purge %s: %w", name, err)
		}
		deleted += n
	}
	return deleted, nil
}

// StreamCount returns the number of streams with the given name.
func (s *Store) StreamCount(ctx context.Context, name string) (int, error) {
	keys, err := s.scan(ctx, s.namePattern(name))
	if err != nil {
		return 0, fmt.Errorf("count streams: %w", err)
	}
	return len(keys), nil
}

// DocumentsWithStream lists the documents of project holding a stream
// named name, ordered by path.
func (s *Store) DocumentsWithStream(ctx context.Context, project, name string) ([]text.DocumentKey, error) {
	keys, err := s.scan(ctx, s.projectPattern(project, name))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	prefix := s.projectPrefix(project, name)
	paths := make([]string, 0, len(keys))
	for _, k := range keys {
		if path, ok := strings.CutPrefix(k, prefix); ok {
			paths = append(paths, path)
		}
	}
	slices.Sort(paths)

	out := make([]text.DocumentKey, len(paths))
	for i, path := range paths {
		out[i] = text.DocumentKey{Project: project, Path: path}
	}
	return out, nil
}

// scan iterates keys matching a pattern.
func (s *Store) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		cmd := s.b().Scan().Cursor(cursor).Match(pattern).Count(100).Build()
		res, err := s.do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, err
		}
		keys = append(keys, res.Elements...)
		cursor = res.Cursor
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// GetMetadata returns the value stored under key, or "" if unset.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	cmd := s.b().Get().Key(s.metaKey(key)).Build()
	v, err := s.do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return "", nil
		}
		return "", fmt.Errorf("get metadata %q: %w", key, err)
	}
	return v, nil
}

// SetMetadata stores value under key.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	cmd := s.b().Set().Key(s.metaKey(key)).Value(value).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("set metadata %q: %w", key, err)
	}
	return nil
}
