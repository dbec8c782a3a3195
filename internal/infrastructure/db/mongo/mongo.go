package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultTimeout = 10 * time.Second
	appName        = "valve-record-console"
)

// Config captures the settings of the self-hosted backend database.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Connect opens the self-hosted backend database and pings it once.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Database, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.URI).SetAppName(appName)
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}

	return client, client.Database(cfg.Database), nil
}

// EnsureIndexes creates the indexes every collection of the self-hosted
// backend relies on: unique account e-mails and time-ordered audit entries.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	if err := NewAuthRepository(db).EnsureIndexes(ctx); err != nil {
		return err
	}
	return EnsureAuditIndexes(ctx, db)
}
