package directory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"potluck/chat-service/internal/models"
)

// CachedDirectory is a read-through Redis cache in front of another
// Directory. Redis failures degrade to the backend instead of failing the
// lookup.
type CachedDirectory struct {
	backend Directory
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	logger  *logrus.Logger
}

func NewCachedDirectory(backend Directory, client redis.UniversalClient, prefix string, ttl time.Duration, logger *logrus.Logger) *CachedDirectory {
	return &CachedDirectory{
		backend: backend,
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		logger:  logger,
	}
}

func (d *CachedDirectory) key(id string) string {
	return d.prefix + "profile:" + id
}

func (d *CachedDirectory) Resolve(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	profiles := make(map[string]models.Profile, len(ids))
	if len(ids) == 0 {
		return profiles, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = d.key(id)
	}

	missing := ids
	values, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		d.logger.WithError(err).Warn("Profile cache lookup failed, falling back to directory")
	} else {
		missing = make([]string, 0, len(ids))
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				missing = append(missing, ids[i])
				continue
			}
			var p models.Profile
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				missing = append(missing, ids[i])
				continue
			}
			profiles[ids[i]] = p
		}
	}

	if len(missing) == 0 {
		return profiles, nil
	}

	fetched, err := d.backend.Resolve(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(fetched) == 0 {
		return profiles, nil
	}

	pipe := d.client.Pipeline()
	for id, p := range fetched {
		profiles[id] = p
		raw, err := json.Marshal(p)
		if err != nil {
			continue
		}
		pipe.Set(ctx, d.key(id), raw, d.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		d.logger.WithError(err).Warn("Failed to populate profile cache")
	}

	return profiles, nil
}

// Invalidate drops cached profiles, e.g. after a profile edit.
func (d *CachedDirectory) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = d.key(id)
	}
	return d.client.Del(ctx, keys...).Err()
}
