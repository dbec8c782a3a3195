package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/globalvalve/valve-record/internal/core/domain"
	"github.com/globalvalve/valve-record/internal/core/ports"
)

const collectionAuditLogs = "audit_logs"

// AuditLogRepository implements ports.AuditLogRepository using MongoDB.
type AuditLogRepository struct {
	db *mongo.Database
}

// NewAuditLogRepository creates a new AuditLogRepository.
func NewAuditLogRepository(db *mongo.Database) ports.AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Insert appends an entry. Entries are never updated afterwards.
func (r *AuditLogRepository) Insert(ctx context.Context, entry *domain.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	_, err := r.db.Collection(collectionAuditLogs).InsertOne(ctx, entry)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListRecent returns at most limit entries, newest first.
func (r *AuditLogRepository) ListRecent(ctx context.Context, limit int) ([]domain.AuditLogEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := r.db.Collection(collectionAuditLogs).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find audit logs: %w", err)
	}
	defer cur.Close(ctx)

	entries := make([]domain.AuditLogEntry, 0, limit)
	if err := cur.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode audit logs: %w", err)
	}
	return entries, nil
}

// DeleteBefore purges entries with a timestamp older than cutoff.
func (r *AuditLogRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.Collection(collectionAuditLogs).DeleteMany(ctx, bson.M{
		"timestamp": bson.M{"$lt": cutoff.UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("delete audit logs: %w", err)
	}
	return res.DeletedCount, nil
}

// EnsureAuditIndexes indexes audit_logs by timestamp for listing and retention.
func EnsureAuditIndexes(ctx context.Context, db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := db.Collection(collectionAuditLogs).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "action", Value: 1}}},
	})
	return err
}
