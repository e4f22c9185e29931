package receipt

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
)

// Repository archives receipts in the receipts schema.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Emit makes the repository usable as a Sink.
func (r *Repository) Emit(ctx context.Context, receipt *domain.Receipt) error {
	return r.Save(ctx, receipt)
}

// Save stores a receipt and its lines. Saving an already archived receipt is a no-op.
func (r *Repository) Save(ctx context.Context, receipt *domain.Receipt) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO receipts (id, session_id, idempotency_key, customer_name, issued_at, status,
			failure_reason, payment_reference, total_items, total_paid, amount_minor, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`, receipt.ID, receipt.SessionID, receipt.IdempotencyKey, receipt.CustomerName, receipt.IssuedAt,
		receipt.Status, receipt.FailureReason, receipt.PaymentReference, receipt.TotalItems,
		receipt.TotalPaid, receipt.AmountMinorUnits, receipt.Currency)
	if err != nil {
		return err
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return nil
	}

	for i, line := range receipt.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO receipt_lines (receipt_id, position, product_id, name, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, receipt.ID, i, line.ProductID, line.Name, line.Quantity, line.UnitPrice, line.Subtotal)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Receipt, error) {
	receipt := &domain.Receipt{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, idempotency_key, customer_name, issued_at, status, failure_reason,
			payment_reference, total_items, total_paid, amount_minor, currency
		FROM receipts
		WHERE id = $1
	`, id).Scan(&receipt.ID, &receipt.SessionID, &receipt.IdempotencyKey, &receipt.CustomerName,
		&receipt.IssuedAt, &receipt.Status, &receipt.FailureReason, &receipt.PaymentReference,
		&receipt.TotalItems, &receipt.TotalPaid, &receipt.AmountMinorUnits, &receipt.Currency)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, quantity, unit_price, subtotal
		FROM receipt_lines
		WHERE receipt_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	receipt.Lines = []domain.ReceiptLine{}
	for rows.Next() {
		var line domain.ReceiptLine
		if err := rows.Scan(&line.ProductID, &line.Name, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return nil, err
		}
		receipt.Lines = append(receipt.Lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return receipt, nil
}

// ListBySession returns a session's receipts, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]domain.Receipt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, idempotency_key, customer_name, issued_at, status, failure_reason,
			payment_reference, total_items, total_paid, amount_minor, currency
		FROM receipts
		WHERE session_id = $1
		ORDER BY issued_at DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	receiptMap := make(map[string]*domain.Receipt)
	var ids []string

	for rows.Next() {
		var rc domain.Receipt
		if err := rows.Scan(&rc.ID, &rc.SessionID, &rc.IdempotencyKey, &rc.CustomerName, &rc.IssuedAt,
			&rc.Status, &rc.FailureReason, &rc.PaymentReference, &rc.TotalItems, &rc.TotalPaid,
			&rc.AmountMinorUnits, &rc.Currency); err != nil {
			return nil, err
		}
		rc.Lines = []domain.ReceiptLine{}
		receiptMap[rc.ID] = &rc
		ids = append(ids, rc.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []domain.Receipt{}, nil
	}

	lineRows, err := r.db.QueryContext(ctx, `
		SELECT receipt_id, product_id, name, quantity, unit_price, subtotal
		FROM receipt_lines
		WHERE receipt_id = ANY($1)
		ORDER BY receipt_id, position
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = lineRows.Close() }()

	for lineRows.Next() {
		var receiptID string
		var line domain.ReceiptLine
		if err := lineRows.Scan(&receiptID, &line.ProductID, &line.Name, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return nil, err
		}
		rc := receiptMap[receiptID]
		rc.Lines = append(rc.Lines, line)
	}

	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	receipts := make([]domain.Receipt, 0, len(ids))
	for _, id := range ids {
		receipts = append(receipts, *receiptMap[id])
	}

	return receipts, nil
}
