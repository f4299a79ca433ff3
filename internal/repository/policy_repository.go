package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/138data/datagate-poc-sub000/internal/models"
)

// ErrPolicyNotFound is returned when no document has ever been persisted.
var ErrPolicyNotFound = errors.New("policy document not found")

const (
	policyKey           = "policy:current"
	policyHistoryPrefix = "policy:history:"
)

// PolicyRepository persists the policy document and its change history.
type PolicyRepository struct {
	client *redis.Client
}

// NewPolicyRepository constructs the repository.
func NewPolicyRepository(client *redis.Client) *PolicyRepository {
	return &PolicyRepository{client: client}
}

// Get returns the persisted document.
func (r *PolicyRepository) Get(ctx context.Context) (*models.PolicyDocument, error) {
	raw, err := r.client.Get(ctx, policyKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	var doc models.PolicyDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal policy: %w", err)
	}
	return &doc, nil
}

// Replace writes the document together with its history entry inside one
// WATCH transaction. The caller computes the diff against the document it read
// immediately before; if a concurrent writer commits in between, the
// transaction fails and the caller re-reads and re-diffs.
func (r *PolicyRepository) Replace(ctx context.Context, doc *models.PolicyDocument, entry *models.PolicyChangeEntry, historyTTL time.Duration, expectedVersion *models.PolicyDocument) error {
	txn := func(tx *redis.Tx) error {
		if expectedVersion != nil {
			current, err := tx.Get(ctx, policyKey).Bytes()
			if err != nil && err != redis.Nil {
				return fmt.Errorf("get policy: %w", err)
			}
			if err != redis.Nil {
				var persisted models.PolicyDocument
				if uerr := json.Unmarshal(current, &persisted); uerr == nil {
					if !persisted.LastUpdated.Equal(expectedVersion.LastUpdated) {
						return redis.TxFailedErr
					}
				}
			}
		}

		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal policy: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, policyKey, payload, 0)
			if entry != nil && len(entry.Changes) > 0 {
				entryPayload, merr := json.Marshal(entry)
				if merr != nil {
					return fmt.Errorf("marshal policy history: %w", merr)
				}
				pipe.Set(ctx, entry.ID, entryPayload, historyTTL)
			}
			return nil
		})
		return err
	}
	return r.client.Watch(ctx, txn, policyKey)
}

// NewHistoryID mints a key that sorts by time with a random suffix so two
// writes inside the same nanosecond cannot collide.
func NewHistoryID(at time.Time) string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%s%d:%s", policyHistoryPrefix, at.UnixNano(), hex.EncodeToString(suffix))
}

// History returns the most recent change entries, newest first.
func (r *PolicyRepository) History(ctx context.Context, limit int) ([]models.PolicyChangeEntry, error) {
	keys, err := r.scanKeys(ctx, policyHistoryPrefix+"*")
	if err != nil {
		return nil, err
	}
	// Keys embed unix nanos, so lexicographic order on equal-width segments is
	// not reliable; sort on the parsed timestamp segment instead.
	sort.Slice(keys, func(i, j int) bool {
		return historyStamp(keys[i]) > historyStamp(keys[j])
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load policy history: %w", err)
	}
	entries := make([]models.PolicyChangeEntry, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var entry models.PolicyChangeEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *PolicyRepository) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return keys, nil
}

func historyStamp(key string) int64 {
	rest := strings.TrimPrefix(key, policyHistoryPrefix)
	var stamp int64
	_, _ = fmt.Sscanf(rest, "%d", &stamp)
	return stamp
}
