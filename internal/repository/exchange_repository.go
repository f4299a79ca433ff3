package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/138data/datagate-poc-sub000/internal/models"
)

// ErrExchangeNotFound is returned when the record is unknown or its TTL
// elapsed. Callers treat both identically: the exchange does not exist.
var ErrExchangeNotFound = errors.New("exchange not found")

// ErrConcurrentUpdate is returned when a compare-and-set mutation lost the
// race too many times in a row.
var ErrConcurrentUpdate = errors.New("exchange record is being updated concurrently")

const casRetries = 5

// ExchangeRepository persists exchange records in the shared document store.
// All mutations go through Update, a WATCH-guarded compare-and-set, so two
// concurrent verifies can never both observe and act on the same stale state.
type ExchangeRepository struct {
	client *redis.Client
}

// NewExchangeRepository constructs the repository.
func NewExchangeRepository(client *redis.Client) *ExchangeRepository {
	return &ExchangeRepository{client: client}
}

// Create persists a new record with the exchange TTL. The record becomes
// unreachable when the TTL elapses, which is its logical deletion.
func (r *ExchangeRepository) Create(ctx context.Context, rec *models.ExchangeRecord, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal exchange %s: %w", rec.ID, err)
	}
	ok, err := r.client.SetNX(ctx, recordKey(rec.ID), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("create exchange %s: %w", rec.ID, err)
	}
	if !ok {
		return fmt.Errorf("exchange %s already exists", rec.ID)
	}
	return nil
}

// Get fetches a record by id.
func (r *ExchangeRepository) Get(ctx context.Context, id string) (*models.ExchangeRecord, error) {
	raw, err := r.client.Get(ctx, recordKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrExchangeNotFound
		}
		return nil, fmt.Errorf("get exchange %s: %w", id, err)
	}
	var rec models.ExchangeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal exchange %s: %w", id, err)
	}
	return &rec, nil
}

// Update applies mutate to the current record under an optimistic WATCH
// transaction, preserving the key's remaining TTL. If another writer commits
// first the read-mutate-write cycle restarts with fresh state; an error from
// mutate aborts without retry and is returned unchanged.
func (r *ExchangeRepository) Update(ctx context.Context, id string, mutate func(*models.ExchangeRecord) error) (*models.ExchangeRecord, error) {
	key := recordKey(id)
	var updated *models.ExchangeRecord

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return ErrExchangeNotFound
			}
			return fmt.Errorf("get exchange %s: %w", id, err)
		}
		var rec models.ExchangeRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("unmarshal exchange %s: %w", id, err)
		}

		if err := mutate(&rec); err != nil {
			return err
		}
		rec.Version++

		payload, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("marshal exchange %s: %w", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &rec
		return nil
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		err := r.client.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, ErrConcurrentUpdate
}

func recordKey(id string) string {
	return "exchange:" + id
}
