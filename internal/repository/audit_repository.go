package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/138data/datagate-poc-sub000/internal/models"
)

const auditPrefix = "audit:"

// AuditRepository persists append-only audit entries under time-sortable keys
// with a retention TTL. Entries are never updated in place.
type AuditRepository struct {
	client *redis.Client
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(client *redis.Client) *AuditRepository {
	return &AuditRepository{client: client}
}

// NewEntryID mints an identifier of the form audit:<unixnano>:<random> so
// entries sort by time and never collide.
func NewEntryID(at time.Time) string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%s%d:%s", auditPrefix, at.UnixNano(), hex.EncodeToString(suffix))
}

// Save persists one entry with the retention TTL.
func (r *AuditRepository) Save(ctx context.Context, entry *models.AuditEntry, retention time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if err := r.client.Set(ctx, entry.ID, payload, retention).Err(); err != nil {
		return fmt.Errorf("save audit entry: %w", err)
	}
	return nil
}

// ScanWindow returns entries whose embedded timestamp falls in [from, to],
// newest first. The scan stops after maxKeys keys so one query can never do
// unbounded work; the result is then simply partial.
func (r *AuditRepository) ScanWindow(ctx context.Context, from, to time.Time, maxKeys int) ([]models.AuditEntry, error) {
	fromNano := from.UnixNano()
	toNano := to.UnixNano()

	var keys []string
	scanned := 0
	iter := r.client.Scan(ctx, 0, auditPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		scanned++
		key := iter.Val()
		stamp := entryStamp(key)
		if stamp >= fromNano && stamp <= toNano {
			keys = append(keys, key)
		}
		if maxKeys > 0 && scanned >= maxKeys {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan audit entries: %w", err)
	}

	sort.Slice(keys, func(i, j int) bool {
		return entryStamp(keys[i]) > entryStamp(keys[j])
	})

	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load audit entries: %w", err)
	}

	entries := make([]models.AuditEntry, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Key expired between scan and fetch.
			continue
		}
		var entry models.AuditEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func entryStamp(key string) int64 {
	rest := strings.TrimPrefix(key, auditPrefix)
	var stamp int64
	_, _ = fmt.Sscanf(rest, "%d", &stamp)
	return stamp
}
