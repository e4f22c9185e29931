// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     string
	LogLevel string

	PostgresURL    string
	CatalogAPIURL  string
	PaymentAPIURL  string
	MarketplaceURL string
	PublicURL      string

	KafkaBrokers  []string
	ReceiptTopic  string
	RabbitMQURL   string
	RabbitMQQueue string

	CheckoutStageTimeout   time.Duration
	CatalogRefreshInterval time.Duration
	CartIdleTimeout        time.Duration
	CartSweepInterval      time.Duration
	ShutdownTimeout        time.Duration
	Currency               string

	ReceiptExportDir string
	OTLPEndpoint     string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func durenvs(key string, defSec int) time.Duration {
	return time.Duration(atoienv(key, defSec)) * time.Second
}

func listenv(key string) []string {
	var out []string
	for _, s := range strings.Split(getenv(key, ""), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Load reads the environment. defaultPort is used when PORT is unset.
func Load(defaultPort string) Config {
	return Config{
		Port:     getenv("PORT", defaultPort),
		LogLevel: getenv("LOG_LEVEL", "info"),

		PostgresURL:    getenv("POSTGRES_URL", ""),
		CatalogAPIURL:  getenv("CATALOG_API_URL", ""),
		PaymentAPIURL:  getenv("PAYMENT_API_URL", "http://localhost:8090"),
		MarketplaceURL: getenv("MARKETPLACE_URL", "http://localhost:8081"),
		PublicURL:      getenv("PUBLIC_URL", ""),

		KafkaBrokers:  listenv("KAFKA_BROKERS"),
		ReceiptTopic:  getenv("RECEIPT_TOPIC", "receipt.issued"),
		RabbitMQURL:   getenv("RABBITMQ_URL", ""),
		RabbitMQQueue: getenv("RABBITMQ_QUEUE", "receipts"),

		CheckoutStageTimeout:   durenvs("CHECKOUT_STAGE_TIMEOUT", 30),
		CatalogRefreshInterval: durenvs("CATALOG_REFRESH_INTERVAL", 60),
		CartIdleTimeout:        durenvs("CART_IDLE_TIMEOUT", 30*24*60*60),
		CartSweepInterval:      durenvs("CART_SWEEP_INTERVAL", 60),
		ShutdownTimeout:        durenvs("SHUTDOWN_TIMEOUT", 10),
		Currency:               strings.ToLower(getenv("CURRENCY", "usd")),

		ReceiptExportDir: getenv("RECEIPT_EXPORT_DIR", ""),
		OTLPEndpoint:     getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}
