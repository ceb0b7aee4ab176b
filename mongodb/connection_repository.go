// Package mongodb implements the ConnectionRepository interface using MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stefanogebara/twin-connect/domain"
)

// ConnectionsCollection holds one document per (user_id, provider).
const ConnectionsCollection = "platform_connections"

// ConnectionRepository is the MongoDB-backed implementation.
type ConnectionRepository struct {
	connections *mongo.Collection
}

var _ domain.ConnectionRepository = (*ConnectionRepository)(nil)

// NewConnectionRepository wires the repository over an existing database
// handle and ensures its indexes.
func NewConnectionRepository(ctx context.Context, db *mongo.Database) (*ConnectionRepository, error) {
	repo := &ConnectionRepository{
		connections: db.Collection(ConnectionsCollection),
	}

	_, err := repo.connections.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "provider", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create connection indexes: %w", err)
	}

	return repo, nil
}

// Connect dials MongoDB and returns a database handle.
func Connect(ctx context.Context, uri, dbName string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client.Database(dbName), nil
}

func pairFilter(userID, provider string) bson.M {
	return bson.M{"user_id": userID, "provider": provider}
}

// GetByUserAndProvider implements domain.ConnectionRepository.
func (r *ConnectionRepository) GetByUserAndProvider(ctx context.Context, userID, provider string) (*domain.PlatformConnection, error) {
	var conn domain.PlatformConnection
	err := r.connections.FindOne(ctx, pairFilter(userID, provider)).Decode(&conn)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrConnectionNotFound
		}
		return nil, fmt.Errorf("find connection: %w", err)
	}
	return &conn, nil
}

// Upsert implements domain.ConnectionRepository.
func (r *ConnectionRepository) Upsert(ctx context.Context, conn *domain.PlatformConnection) error {
	if conn.ID == "" {
		conn.ID = primitive.NewObjectID().Hex()
	}
	now := time.Now().UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	update := bson.M{
		"$set": bson.M{
			"access_token":     conn.AccessToken,
			"refresh_token":    conn.RefreshToken,
			"expires_at":       conn.ExpiresAt,
			"status":           conn.Status,
			"last_sync_at":     conn.LastSyncAt,
			"last_sync_status": conn.LastSyncStatus,
			"error_count":      conn.ErrorCount,
			"updated_at":       conn.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"_id":        conn.ID,
			"user_id":    conn.UserID,
			"provider":   conn.Provider,
			"created_at": conn.CreatedAt,
		},
	}

	_, err := r.connections.UpdateOne(ctx, pairFilter(conn.UserID, conn.Provider), update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert connection: %w", err)
	}
	return nil
}

// ListByUser implements domain.ConnectionRepository.
func (r *ConnectionRepository) ListByUser(ctx context.Context, userID string) ([]*domain.PlatformConnection, error) {
	cursor, err := r.connections.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "provider", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer cursor.Close(ctx)

	var conns []*domain.PlatformConnection
	if err := cursor.All(ctx, &conns); err != nil {
		return nil, fmt.Errorf("decode connections: %w", err)
	}
	return conns, nil
}

// ListExpiring implements domain.ConnectionRepository.
func (r *ConnectionRepository) ListExpiring(ctx context.Context, before time.Time) ([]*domain.PlatformConnection, error) {
	filter := bson.M{
		"status":     domain.StatusConnected,
		"expires_at": bson.M{"$lt": before},
	}
	cursor, err := r.connections.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list expiring connections: %w", err)
	}
	defer cursor.Close(ctx)

	var conns []*domain.PlatformConnection
	if err := cursor.All(ctx, &conns); err != nil {
		return nil, fmt.Errorf("decode expiring connections: %w", err)
	}
	return conns, nil
}

// SetStatus implements domain.ConnectionRepository.
func (r *ConnectionRepository) SetStatus(ctx context.Context, userID, provider string, status domain.ConnectionStatus) error {
	res, err := r.connections.UpdateOne(ctx, pairFilter(userID, provider), bson.M{
		"$set": bson.M{"status": status, "updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("set connection status: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

// RecordRefreshFailure implements domain.ConnectionRepository using an atomic
// $inc so concurrent schedulers cannot lose counts.
func (r *ConnectionRepository) RecordRefreshFailure(ctx context.Context, userID, provider string) (int, error) {
	var updated domain.PlatformConnection
	err := r.connections.FindOneAndUpdate(ctx, pairFilter(userID, provider),
		bson.M{
			"$inc": bson.M{"error_count": 1},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, domain.ErrConnectionNotFound
		}
		return 0, fmt.Errorf("record refresh failure: %w", err)
	}
	return updated.ErrorCount, nil
}

// UpdateSyncResult implements domain.ConnectionRepository.
func (r *ConnectionRepository) UpdateSyncResult(ctx context.Context, userID, provider string, at time.Time, status string) error {
	res, err := r.connections.UpdateOne(ctx, pairFilter(userID, provider), bson.M{
		"$set": bson.M{
			"last_sync_at":     at,
			"last_sync_status": status,
			"updated_at":       time.Now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("update sync result: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

// Disconnect implements domain.ConnectionRepository. Absent rows succeed.
func (r *ConnectionRepository) Disconnect(ctx context.Context, userID, provider string) error {
	_, err := r.connections.UpdateOne(ctx, pairFilter(userID, provider), bson.M{
		"$set": bson.M{
			"status":     domain.StatusDisconnected,
			"updated_at": time.Now().UTC(),
		},
		"$unset": bson.M{
			"access_token":  "",
			"refresh_token": "",
			"expires_at":    "",
		},
	})
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}
