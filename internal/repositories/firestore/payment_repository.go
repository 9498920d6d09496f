package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/merakistore/api/internal/domain"
	pfirestore "github.com/merakistore/api/internal/platform/firestore"
)

const paymentLedgerCollection = "paymentLedger"

// PaymentLedgerRepository stores the append-only ledger of gateway payment
// attempts. Entries carrying a gateway transaction id are keyed by it so a
// replayed verification can never record twice.
type PaymentLedgerRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Repository[paymentLedgerDocument]
}

// NewPaymentLedgerRepository constructs a Firestore-backed payment ledger.
func NewPaymentLedgerRepository(provider *pfirestore.Provider) (*PaymentLedgerRepository, error) {
	if provider == nil {
		return nil, errors.New("payment ledger repository: firestore provider is required")
	}
	base := pfirestore.NewRepository[paymentLedgerDocument](provider, paymentLedgerCollection)
	return &PaymentLedgerRepository{provider: provider, base: base}, nil
}

// CreateIfAbsent writes the entry under its TransactionID. When an entry for
// that transaction already exists the stored entry is returned unchanged and
// created is false.
func (r *PaymentLedgerRepository) CreateIfAbsent(ctx context.Context, entry domain.PaymentLedgerEntry) (domain.PaymentLedgerEntry, bool, error) {
	if r == nil || r.provider == nil {
		return domain.PaymentLedgerEntry{}, false, errors.New("payment ledger repository not initialised")
	}
	transactionID := strings.TrimSpace(entry.TransactionID)
	if transactionID == "" {
		return domain.PaymentLedgerEntry{}, false, errors.New("payment ledger repository: transaction id is required")
	}

	var stored domain.PaymentLedgerEntry
	created := false
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, transactionID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err == nil {
			var doc paymentLedgerDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode ledger entry %s: %w", transactionID, err)
			}
			stored = doc.toDomain(snap.Ref.ID)
			created = false
			return nil
		}
		if status.Code(err) != codes.NotFound {
			return err
		}

		doc := encodePaymentLedgerDocument(entry)
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = time.Now().UTC()
		}
		if err := tx.Create(ref, doc); err != nil {
			return err
		}
		stored = doc.toDomain(transactionID)
		created = true
		return nil
	})
	if err != nil {
		return domain.PaymentLedgerEntry{}, false, pfirestore.WrapError("payment_ledger.create_if_absent", err)
	}
	return stored, created, nil
}

// Append records an entry under its own id. Used for initiated and failed
// attempts that have no unique gateway transaction id yet.
func (r *PaymentLedgerRepository) Append(ctx context.Context, entry domain.PaymentLedgerEntry) (domain.PaymentLedgerEntry, error) {
	if r == nil || r.base == nil {
		return domain.PaymentLedgerEntry{}, errors.New("payment ledger repository not initialised")
	}
	entryID := strings.TrimSpace(entry.ID)
	if entryID == "" {
		return domain.PaymentLedgerEntry{}, errors.New("payment ledger repository: entry id is required")
	}
	ref, err := r.base.DocumentRef(ctx, entryID)
	if err != nil {
		return domain.PaymentLedgerEntry{}, err
	}
	doc := encodePaymentLedgerDocument(entry)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.PaymentLedgerEntry{}, pfirestore.WrapError("payment_ledger.append", err)
	}
	return doc.toDomain(entryID), nil
}

// FindByTransactionID fetches the ledger entry recorded for the gateway
// transaction.
func (r *PaymentLedgerRepository) FindByTransactionID(ctx context.Context, transactionID string) (domain.PaymentLedgerEntry, error) {
	if r == nil || r.base == nil {
		return domain.PaymentLedgerEntry{}, errors.New("payment ledger repository not initialised")
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.PaymentLedgerEntry{}, errors.New("payment ledger repository: transaction id is required")
	}
	doc, err := r.base.Get(ctx, transactionID)
	if err != nil {
		return domain.PaymentLedgerEntry{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByOrder returns all ledger entries recorded for an order, oldest first.
func (r *PaymentLedgerRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentLedgerEntry, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("payment ledger repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("payment ledger repository: order id is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	entries := make([]domain.PaymentLedgerEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.Data.toDomain(doc.ID))
	}
	return entries, nil
}

type paymentLedgerDocument struct {
	OrderID        string    `firestore:"orderId"`
	UserID         string    `firestore:"userId"`
	Amount         int64     `firestore:"amount"`
	Currency       string    `firestore:"currency"`
	Provider       string    `firestore:"provider"`
	Method         string    `firestore:"method,omitempty"`
	Status         string    `firestore:"status"`
	TransactionID  string    `firestore:"transactionId,omitempty"`
	GatewayOrderID string    `firestore:"gatewayOrderId,omitempty"`
	FailureReason  string    `firestore:"failureReason,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

func encodePaymentLedgerDocument(entry domain.PaymentLedgerEntry) paymentLedgerDocument {
	return paymentLedgerDocument{
		OrderID:        entry.OrderID,
		UserID:         entry.UserID,
		Amount:         entry.Amount,
		Currency:       entry.Currency,
		Provider:       entry.Provider,
		Method:         entry.Method,
		Status:         string(entry.Status),
		TransactionID:  strings.TrimSpace(entry.TransactionID),
		GatewayOrderID: entry.GatewayOrderID,
		FailureReason:  entry.FailureReason,
		CreatedAt:      entry.CreatedAt.UTC(),
	}
}

func (d paymentLedgerDocument) toDomain(id string) domain.PaymentLedgerEntry {
	return domain.PaymentLedgerEntry{
		ID:             id,
		OrderID:        d.OrderID,
		UserID:         d.UserID,
		Amount:         d.Amount,
		Currency:       d.Currency,
		Provider:       d.Provider,
		Method:         d.Method,
		Status:         domain.PaymentStatus(d.Status),
		TransactionID:  d.TransactionID,
		GatewayOrderID: d.GatewayOrderID,
		FailureReason:  d.FailureReason,
		CreatedAt:      d.CreatedAt,
	}
}
