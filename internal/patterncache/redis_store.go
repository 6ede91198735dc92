package patterncache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps one hash per subject, keyed by report id.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store using keys "<prefix>:<subjectID>".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "analysis-pattern"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(subjectID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, subjectID)
}

func (s *RedisStore) Get(ctx context.Context, subjectID, reportID string) (*Entry, error) {
	raw, err := s.client.HGet(ctx, s.key(subjectID), reportID).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("decode pattern entry: %w", err)
	}
	return &entry, nil
}

func (s *RedisStore) Put(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode pattern entry: %w", err)
	}
	return s.client.HSet(ctx, s.key(entry.SubjectID), entry.ReportID, string(data)).Err()
}

func (s *RedisStore) List(ctx context.Context, subjectID string) ([]Entry, error) {
	all, err := s.client.HGetAll(ctx, s.key(subjectID)).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(all))
	for reportID, raw := range all {
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("decode pattern entry %s: %w", reportID, err)
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ReportID < entries[j].ReportID })
	return entries, nil
}
