package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/lib/pq"

	"potluck/chat-service/internal/models"
)

// Directory resolves user ids to display profiles. Ids that do not resolve
// are absent from the returned map; that is not an error.
type Directory interface {
	Resolve(ctx context.Context, ids []string) (map[string]models.Profile, error)
}

// PostgresDirectory reads the application's users table.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Resolve(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	profiles := make(map[string]models.Profile, len(ids))
	if len(ids) == 0 {
		return profiles, nil
	}

	query := `
	SELECT id, username, COALESCE(avatar_url, '')
	FROM users
	WHERE id::text = ANY($1)
	`

	rows, err := d.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		profiles[p.ID] = p
	}

	return profiles, rows.Err()
}

// StaticDirectory is an in-memory directory for development and tests.
type StaticDirectory struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
}

func NewStaticDirectory(profiles ...models.Profile) *StaticDirectory {
	d := &StaticDirectory{profiles: make(map[string]models.Profile, len(profiles))}
	for _, p := range profiles {
		d.profiles[p.ID] = p
	}
	return d
}

// ParseProfiles reads "id" or "id=Display Name" entries. The name defaults
// to the id.
func ParseProfiles(entries []string) []models.Profile {
	profiles := make([]models.Profile, 0, len(entries))
	for _, e := range entries {
		id, name, _ := strings.Cut(e, "=")
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if id == "" {
			continue
		}
		if name == "" {
			name = id
		}
		profiles = append(profiles, models.Profile{ID: id, Name: name})
	}
	return profiles
}

func (d *StaticDirectory) Put(p models.Profile) {
	d.mu.Lock()
	d.profiles[p.ID] = p
	d.mu.Unlock()
}

func (d *StaticDirectory) Resolve(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]models.Profile, len(ids))
	for _, id := range ids {
		if p, ok := d.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
