//go:build integration

package test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/gearup-marketplace/internal/cart"
	"github.com/joao-fontenele/gearup-marketplace/internal/catalog"
	"github.com/joao-fontenele/gearup-marketplace/internal/checkout"
	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
	"github.com/joao-fontenele/gearup-marketplace/internal/messaging"
	"github.com/joao-fontenele/gearup-marketplace/internal/payment"
	"github.com/joao-fontenele/gearup-marketplace/internal/paymentsim"
	"github.com/joao-fontenele/gearup-marketplace/internal/receipt"
	"github.com/joao-fontenele/gearup-marketplace/internal/storefront"
	"github.com/joao-fontenele/gearup-marketplace/internal/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleReceipt(sessionID string) *domain.Receipt {
	snap := domain.CartSnapshot{Lines: []domain.CartLine{
		{ProductID: "server-1", Name: "Climbing Rope", UnitPrice: decimal.RequireFromString("89.90"), Quantity: 1},
		{ProductID: "firestore-7", Name: "Chalk <Bag>", UnitPrice: decimal.RequireFromString("12.50"), Quantity: 2},
	}}
	return receipt.Build(sessionID, snap, domain.PaymentAttempt{
		IdempotencyKey:   "key-" + sessionID,
		CardholderName:   "Jane Doe",
		AmountMinorUnits: snap.AmountMinorUnits(),
		Currency:         "usd",
		Reference:        "pi_123",
		Status:           domain.PaymentStatusSucceeded,
	}, time.Now())
}

func TestReceiptArchive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	connStr := SetupPostgres(ctx, t)

	repo := receipt.NewRepository(OpenDB(t, connStr))
	rc := sampleReceipt("session-a")

	if err := repo.Save(ctx, rc); err != nil {
		t.Fatalf("failed to save receipt: %v", err)
	}
	if err := repo.Save(ctx, rc); err != nil {
		t.Fatalf("second save should be a no-op, got: %v", err)
	}

	got, err := repo.GetByID(ctx, rc.ID)
	if err != nil {
		t.Fatalf("failed to get receipt: %v", err)
	}
	if got == nil {
		t.Fatal("expected receipt, got nil")
	}
	if got.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("expected status succeeded, got %s", got.Status)
	}
	if len(got.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got.Lines))
	}
	if got.Lines[0].ProductID != "server-1" || got.Lines[1].ProductID != "firestore-7" {
		t.Fatalf("lines out of order: %+v", got.Lines)
	}
	if !got.TotalPaid.Equal(decimal.RequireFromString("114.90")) {
		t.Fatalf("expected total 114.90, got %s", got.TotalPaid)
	}
	if got.TotalItems != 3 {
		t.Fatalf("expected 3 items, got %d", got.TotalItems)
	}

	if _, err := repo.GetByID(ctx, "00000000-0000-0000-0000-000000000000"); err != nil {
		t.Fatalf("unexpected error for missing receipt: %v", err)
	}

	if err := repo.Save(ctx, sampleReceipt("session-b")); err != nil {
		t.Fatalf("failed to save receipt: %v", err)
	}

	list, err := repo.ListBySession(ctx, "session-a")
	if err != nil {
		t.Fatalf("failed to list receipts: %v", err)
	}
	if len(list) != 1 || list[0].ID != rc.ID {
		t.Fatalf("expected only session-a receipt, got %+v", list)
	}
}

func TestStoreFeedAdmin(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	connStr := SetupPostgres(ctx, t)

	store := catalog.NewStoreFeed(OpenDB(t, connStr))

	created, err := store.Create(ctx, catalog.NewProductInput{
		Name:        "Headlamp",
		Price:       decimal.RequireFromString("34.99"),
		Image:       "https://img.example/headlamp.png",
		Description: "400 lumens",
	})
	if err != nil {
		t.Fatalf("failed to create product: %v", err)
	}
	if created.ID != domain.ProductKey(domain.OriginDocumentStore, created.RawID) {
		t.Fatalf("unexpected product key %q", created.ID)
	}

	products, err := store.Fetch(ctx)
	if err != nil {
		t.Fatalf("failed to fetch products: %v", err)
	}
	if len(products) != 1 || products[0].Name != "Headlamp" {
		t.Fatalf("unexpected products: %+v", products)
	}
	if !products[0].UnitPrice.Equal(decimal.RequireFromString("34.99")) {
		t.Fatalf("expected price 34.99, got %s", products[0].UnitPrice)
	}

	if err := store.Delete(ctx, created.RawID); err != nil {
		t.Fatalf("failed to delete product: %v", err)
	}
	if err := store.Delete(ctx, created.RawID); !errors.Is(err, catalog.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}

	got, err := store.Get(ctx, created.RawID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected deleted product to be gone, got %+v", got)
	}
}

func TestCatalogWatcherReceivesChanges(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	connStr := SetupPostgres(ctx, t)

	store := catalog.NewStoreFeed(OpenDB(t, connStr))
	events := make(chan domain.ProductChangedEvent, 16)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	watcher := catalog.NewWatcher(connStr, discardLogger(), func(_ context.Context, ev domain.ProductChangedEvent) {
		events <- ev
	})
	go func() { _ = watcher.Run(watchCtx) }()

	// LISTEN is issued asynchronously; keep inserting until a notification arrives.
	deadline := time.After(30 * time.Second)
	for {
		p, err := store.Create(ctx, catalog.NewProductInput{
			Name:  "Carabiner",
			Price: decimal.RequireFromString("9.50"),
			Image: "https://img.example/carabiner.png",
		})
		if err != nil {
			t.Fatalf("failed to create product: %v", err)
		}

		select {
		case ev := <-events:
			if ev.Operation != "insert" {
				t.Fatalf("expected insert event, got %+v", ev)
			}
			if ev.ProductID == "" {
				t.Fatal("expected product id in event")
			}
			if err := store.Delete(ctx, p.RawID); err != nil {
				t.Fatalf("failed to delete product: %v", err)
			}
			for {
				select {
				case ev := <-events:
					if ev.Operation == "delete" && ev.ProductID == p.RawID {
						return
					}
				case <-time.After(10 * time.Second):
					t.Fatal("timed out waiting for delete notification")
				}
			}
		case <-time.After(500 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for insert notification")
		}
	}
}

func TestReceiptEventsReachExporter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers := SetupKafka(ctx, t)

	connStr := SetupPostgres(ctx, t)

	logger := discardLogger()
	repo := receipt.NewRepository(OpenDB(t, connStr))
	exportDir := t.TempDir()

	exporter, err := worker.NewReceiptExporter(repo, exportDir, logger)
	if err != nil {
		t.Fatalf("failed to create exporter: %v", err)
	}

	producer := messaging.NewProducer(brokers, "receipt.issued")
	defer func() { _ = producer.Close() }()

	rc := sampleReceipt("session-kafka")
	if err := receipt.NewEventSink(producer).Emit(ctx, rc); err != nil {
		t.Fatalf("failed to publish receipt: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, "receipt.issued", "receipt-exporter-test", logger,
		messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	consumeCtx, stopConsume := context.WithTimeout(ctx, time.Minute)
	defer stopConsume()

	handled := make(chan messaging.Message, 1)
	go func() {
		_ = consumer.Consume(consumeCtx, func(ctx context.Context, msg messaging.Message) error {
			if err := exporter.Handle(ctx, msg); err != nil {
				return err
			}
			handled <- msg
			return nil
		})
	}()

	select {
	case msg := <-handled:
		if msg.Key != rc.ID {
			t.Fatalf("expected key %s, got %s", rc.ID, msg.Key)
		}
		if msg.EventType != "receipt.issued" {
			t.Fatalf("expected event type receipt.issued, got %s", msg.EventType)
		}
	case <-consumeCtx.Done():
		t.Fatal("timed out waiting for receipt event")
	}

	archived, err := repo.GetByID(ctx, rc.ID)
	if err != nil {
		t.Fatalf("failed to load archived receipt: %v", err)
	}
	if archived == nil {
		t.Fatal("expected receipt to be archived")
	}

	html, err := os.ReadFile(filepath.Join(exportDir, rc.ID+".html"))
	if err != nil {
		t.Fatalf("expected rendered receipt: %v", err)
	}
	if !strings.Contains(string(html), "Chalk &lt;Bag&gt;") {
		t.Fatal("expected escaped item name in rendered receipt")
	}
}

type checkoutEnv struct {
	server   *httptest.Server
	receipts *receipt.Repository
	product  domain.Product
}

func setupCheckout(ctx context.Context, t *testing.T, connStr string) *checkoutEnv {
	t.Helper()

	logger := discardLogger()
	db := OpenDB(t, connStr)

	store := catalog.NewStoreFeed(db)
	product, err := store.Create(ctx, catalog.NewProductInput{
		Name:        "Trail Shoes",
		Price:       decimal.RequireFromString("10.005"),
		Image:       "https://img.example/shoes.png",
		Description: "Grippy",
	})
	if err != nil {
		t.Fatalf("failed to create product: %v", err)
	}

	aggregator := catalog.NewAggregator(logger, store)
	if err := aggregator.Refresh(ctx); err != nil {
		t.Fatalf("failed to refresh catalog: %v", err)
	}

	sim := paymentsim.NewHandler(logger)
	simMux := http.NewServeMux()
	simMux.HandleFunc("POST /create-payment-intent", sim.HandleCreateIntent)
	simMux.HandleFunc("POST /confirm-payment", sim.HandleConfirm)
	simServer := httptest.NewServer(simMux)
	t.Cleanup(simServer.Close)

	repo := receipt.NewRepository(db)
	processor, err := checkout.NewProcessor(
		payment.NewHTTPProcessor(simServer.URL, "usd", &http.Client{Timeout: 10 * time.Second}, logger),
		repo,
		logger,
		checkout.WithStageTimeout(10*time.Second),
	)
	if err != nil {
		t.Fatalf("failed to create checkout processor: %v", err)
	}

	shop := storefront.NewHandler(cart.NewRegistry(logger), aggregator, processor, repo, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cart", shop.HandleGetCart)
	mux.HandleFunc("POST /cart/items", shop.HandleAddItem)
	mux.HandleFunc("POST /checkout", shop.HandleCheckout)
	mux.HandleFunc("GET /receipts", shop.HandleListReceipts)
	mux.HandleFunc("GET /receipts/{id}/html", shop.HandleGetReceiptHTML)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	// The stored price is rounded to the column scale.
	stored, ok := aggregator.Lookup(product.ID)
	if !ok {
		t.Fatalf("product %s missing from catalog", product.ID)
	}

	return &checkoutEnv{server: server, receipts: repo, product: stored}
}

func (e *checkoutEnv) do(t *testing.T, method, path, session, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(storefront.SessionHeader, session)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type checkoutReply struct {
	State   checkout.State  `json:"state"`
	Message string          `json:"message"`
	Receipt *domain.Receipt `json:"receipt"`
	Cart    struct {
		Count int `json:"count"`
	} `json:"cart"`
	ReturnToCatalog bool `json:"return_to_catalog"`
}

func TestCheckoutSucceeds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	connStr := SetupPostgres(ctx, t)

	env := setupCheckout(ctx, t, connStr)

	resp := env.do(t, http.MethodPost, "/cart/items", "shopper-1", `{"product_id":"`+env.product.ID+`","quantity":3}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 adding item, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/checkout", "shopper-1",
		`{"cardholder_name":"Jane Doe","payment_method":{"token":"tok_visa","complete":true}}`)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var reply checkoutReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("failed to decode checkout response: %v", err)
	}
	if reply.State != checkout.StateSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", reply.State, reply.Message)
	}
	if !reply.ReturnToCatalog {
		t.Fatal("expected return to catalog on success")
	}
	if reply.Cart.Count != 0 {
		t.Fatalf("expected empty cart, got %d items", reply.Cart.Count)
	}

	expectedMinor := env.product.UnitPrice.Mul(decimal.NewFromInt(3)).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	if reply.Receipt == nil || reply.Receipt.AmountMinorUnits != expectedMinor {
		t.Fatalf("expected receipt for %d minor units, got %+v", expectedMinor, reply.Receipt)
	}

	archived, err := env.receipts.GetByID(ctx, reply.Receipt.ID)
	if err != nil {
		t.Fatalf("failed to load receipt: %v", err)
	}
	if archived == nil || archived.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("expected succeeded receipt in archive, got %+v", archived)
	}

	resp = env.do(t, http.MethodGet, "/receipts/"+reply.Receipt.ID+"/html", "shopper-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for receipt html, got %d", resp.StatusCode)
	}
	html, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(html), "Jane Doe") {
		t.Fatal("expected customer name in rendered receipt")
	}
}

func TestCheckoutDeclinedKeepsCart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	connStr := SetupPostgres(ctx, t)

	env := setupCheckout(ctx, t, connStr)

	env.do(t, http.MethodPost, "/cart/items", "shopper-2", `{"product_id":"`+env.product.ID+`"}`)

	resp := env.do(t, http.MethodPost, "/checkout", "shopper-2",
		`{"cardholder_name":"  ","payment_method":{"token":"tok_visa","complete":true}}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for blank name, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/checkout", "shopper-2",
		`{"cardholder_name":"John Roe","payment_method":{"token":"tok_chargeDeclined","complete":true}}`)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.StatusCode)
	}

	var reply checkoutReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("failed to decode checkout response: %v", err)
	}
	if reply.State != checkout.StateFailed {
		t.Fatalf("expected failed, got %s", reply.State)
	}
	if reply.Cart.Count != 1 {
		t.Fatalf("expected cart untouched, got %d items", reply.Cart.Count)
	}
	if !strings.Contains(reply.Message, "declined") {
		t.Fatalf("expected decline reason, got %q", reply.Message)
	}

	list, err := env.receipts.ListBySession(ctx, "shopper-2")
	if err != nil {
		t.Fatalf("failed to list receipts: %v", err)
	}
	if len(list) != 1 || list[0].Status != domain.PaymentStatusFailed {
		t.Fatalf("expected one failed receipt, got %+v", list)
	}
}

func TestReceiptEventsOverRabbitMQ(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	url := SetupRabbitMQ(ctx, t)
	logger := discardLogger()

	publisher, err := messaging.NewAMQPPublisher(url, "receipts")
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	defer func() { _ = publisher.Close() }()

	consumer, err := messaging.NewAMQPConsumer(url, "receipts", "receipt-exporter-test", logger)
	if err != nil {
		t.Fatalf("failed to create consumer: %v", err)
	}
	defer func() { _ = consumer.Close() }()

	exportDir := t.TempDir()
	exporter, err := worker.NewReceiptExporter(nil, exportDir, logger)
	if err != nil {
		t.Fatalf("failed to create exporter: %v", err)
	}

	consumeCtx, stopConsume := context.WithTimeout(ctx, time.Minute)
	defer stopConsume()

	handled := make(chan messaging.Message, 2)
	go func() {
		_ = consumer.Consume(consumeCtx, func(ctx context.Context, msg messaging.Message) error {
			err := exporter.Handle(ctx, msg)
			handled <- msg
			return err
		})
	}()

	if err := publisher.Publish(ctx, "junk", map[string]string{"receipt": "not-a-receipt"}); err != nil {
		t.Fatalf("failed to publish junk message: %v", err)
	}

	rc := sampleReceipt("session-amqp")
	if err := receipt.NewEventSink(publisher).Emit(ctx, rc); err != nil {
		t.Fatalf("failed to publish receipt: %v", err)
	}

	// The junk message is dropped and the consumer moves on to the receipt.
	for {
		select {
		case msg := <-handled:
			if msg.Key != rc.ID {
				continue
			}
			if _, err := os.Stat(filepath.Join(exportDir, rc.ID+".html")); err != nil {
				t.Fatalf("expected rendered receipt: %v", err)
			}
			return
		case <-consumeCtx.Done():
			t.Fatal("timed out waiting for receipt over rabbitmq")
		}
	}
}
