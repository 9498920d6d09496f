package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const idempotencyCollection = "idempotent_requests"

// FirestoreStore keeps idempotency records in a Firestore collection, one
// document per key.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore builds a Firestore-backed store.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client, collection: idempotencyCollection}
}

type idempotencyDoc struct {
	Key       string              `firestore:"key"`
	Digest    string              `firestore:"digest"`
	Completed bool                `firestore:"completed"`
	Status    int                 `firestore:"status"`
	Headers   map[string][]string `firestore:"headers"`
	Body      []byte              `firestore:"body"`
	CreatedAt time.Time           `firestore:"createdAt"`
	ExpiresAt time.Time           `firestore:"expiresAt"`
}

func (d idempotencyDoc) record() Record {
	return Record{
		Digest:    d.Digest,
		Completed: d.Completed,
		Status:    d.Status,
		Headers:   d.Headers,
		Body:      d.Body,
		CreatedAt: d.CreatedAt,
		ExpiresAt: d.ExpiresAt,
	}
}

func (d idempotencyDoc) expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

// Claim transactionally registers the key, so two concurrent requests with
// the same key cannot both win the claim.
func (s *FirestoreStore) Claim(ctx context.Context, key, digest string, now time.Time, ttl time.Duration) (Outcome, Record, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.client.Collection(s.collection).Doc(docID(key))

	var outcome Outcome
	var record Record
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		var doc idempotencyDoc
		if err == nil {
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
		}

		if err != nil || doc.expired(now) {
			doc = idempotencyDoc{
				Key:       key,
				Digest:    digest,
				CreatedAt: now,
				ExpiresAt: now.Add(ttl),
			}
			if err := tx.Set(ref, doc); err != nil {
				return err
			}
			outcome, record = OutcomeFirst, doc.record()
			return nil
		}

		if doc.Digest != digest {
			return ErrDigestMismatch
		}
		if doc.Completed {
			outcome, record = OutcomeReplay, doc.record()
			return nil
		}
		outcome, record = OutcomeInFlight, doc.record()
		return nil
	})
	if err != nil {
		return 0, Record{}, err
	}
	return outcome, record, nil
}

// Complete overwrites the claim with the stored response.
func (s *FirestoreStore) Complete(ctx context.Context, key, digest string, rec Record, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.client.Collection(s.collection).Doc(docID(key))

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		created := now
		if err == nil {
			var doc idempotencyDoc
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Digest != digest {
				return ErrDigestMismatch
			}
			if !doc.CreatedAt.IsZero() {
				created = doc.CreatedAt
			}
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		return tx.Set(ref, idempotencyDoc{
			Key:       key,
			Digest:    digest,
			Completed: true,
			Status:    rec.Status,
			Headers:   rec.Headers,
			Body:      rec.Body,
			CreatedAt: created,
			ExpiresAt: now.Add(ttl),
		})
	})
}

// Abandon deletes the claim. A missing document is not an error.
func (s *FirestoreStore) Abandon(ctx context.Context, key string) error {
	_, err := s.client.Collection(s.collection).Doc(docID(key)).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// CleanupExpired deletes expired records in a single batch.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	if limit <= 0 {
		limit = 100
	}

	docs, err := s.client.Collection(s.collection).
		Where("expiresAt", "<=", now).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	batch := s.client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, err
	}
	return len(docs), nil
}
