package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
)

// ChangeChannel is the Postgres NOTIFY channel raised by the catalog_products trigger.
const ChangeChannel = "catalog_products_changed"

// Watcher turns NOTIFY events on the product table into a live feed.
type Watcher struct {
	connStr  string
	logger   *slog.Logger
	onChange func(ctx context.Context, ev domain.ProductChangedEvent)
}

func NewWatcher(connStr string, logger *slog.Logger, onChange func(ctx context.Context, ev domain.ProductChangedEvent)) *Watcher {
	return &Watcher{connStr: connStr, logger: logger, onChange: onChange}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	listener := pq.NewListener(w.connStr, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			w.logger.Warn("catalog listener event", "event", ev, "error", err)
		}
	})
	defer func() { _ = listener.Close() }()

	if err := listener.Listen(ChangeChannel); err != nil {
		return err
	}
	w.logger.Info("listening for catalog changes", "channel", ChangeChannel)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// A nil notification follows a reconnect; events may have been missed.
			if n == nil {
				w.onChange(ctx, domain.ProductChangedEvent{Operation: "resync"})
				continue
			}
			var ev domain.ProductChangedEvent
			if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
				w.logger.Warn("invalid catalog notification", "error", err, "payload", n.Extra)
				ev = domain.ProductChangedEvent{Operation: "resync"}
			}
			w.onChange(ctx, ev)
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				w.logger.Warn("catalog listener ping failed", "error", err)
			}
		}
	}
}
