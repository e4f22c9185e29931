// Package worker archives issued receipts and renders their shareable HTML copy.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
	"github.com/joao-fontenele/gearup-marketplace/internal/messaging"
	"github.com/joao-fontenele/gearup-marketplace/internal/receipt"
)

// Archive stores receipts. Saving the same receipt twice must be a no-op.
type Archive interface {
	Save(ctx context.Context, r *domain.Receipt) error
}

type ReceiptExporter struct {
	archive   Archive
	exportDir string
	logger    *slog.Logger
	exported  metric.Int64Counter
}

// NewReceiptExporter writes HTML receipts to exportDir. An empty exportDir
// disables rendering; a nil archive disables archiving.
func NewReceiptExporter(archive Archive, exportDir string, logger *slog.Logger) (*ReceiptExporter, error) {
	exported, err := otel.Meter("worker").Int64Counter("receipts.exported",
		metric.WithDescription("Receipts processed by the exporter"),
	)
	if err != nil {
		return nil, err
	}

	if exportDir != "" {
		if err := os.MkdirAll(exportDir, 0o755); err != nil {
			return nil, fmt.Errorf("create export dir: %w", err)
		}
	}

	return &ReceiptExporter{
		archive:   archive,
		exportDir: exportDir,
		logger:    logger,
		exported:  exported,
	}, nil
}

func (e *ReceiptExporter) Handle(ctx context.Context, msg messaging.Message) error {
	if msg.EventType != "" && msg.EventType != (domain.ReceiptIssuedEvent{}).EventType() {
		e.logger.Debug("ignoring event", "event_type", msg.EventType, "key", msg.Key)
		return nil
	}

	var event domain.ReceiptIssuedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return messaging.Skip(fmt.Errorf("unmarshal receipt issued event: %w", err))
	}
	rc := &event.Receipt
	if rc.ID == "" {
		return messaging.Skip(fmt.Errorf("receipt event %q has no receipt id", msg.Key))
	}

	e.logger.Info("processing receipt issued event", "receipt_id", rc.ID, "status", rc.Status, "session_id", rc.SessionID)

	if e.archive != nil {
		if err := e.archive.Save(ctx, rc); err != nil {
			e.logger.Error("failed to archive receipt", "error", err, "receipt_id", rc.ID)
			return fmt.Errorf("archive receipt: %w", err)
		}
	}

	if e.exportDir != "" {
		path, err := e.writeHTML(rc)
		if err != nil {
			e.logger.Error("failed to render receipt", "error", err, "receipt_id", rc.ID)
			return fmt.Errorf("render receipt: %w", err)
		}
		e.logger.Info("receipt rendered", "receipt_id", rc.ID, "path", path)
	}

	e.exported.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(rc.Status))))
	return nil
}

// writeHTML writes through a temp file so readers never see a partial receipt.
func (e *ReceiptExporter) writeHTML(rc *domain.Receipt) (string, error) {
	body, err := receipt.RenderHTMLBytes(rc)
	if err != nil {
		return "", err
	}

	path := filepath.Join(e.exportDir, filepath.Base(rc.ID)+".html")
	tmp, err := os.CreateTemp(e.exportDir, ".receipt-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}
