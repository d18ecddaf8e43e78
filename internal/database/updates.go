package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// RecordUpdate writes the inbound update id into the dedup ledger. The
// ledger uses the update id as _id, so a second insert of the same id hits
// the unique constraint — that duplicate-key condition, not an error, is
// the signal that the update was already processed.
func (m *MongoDB) RecordUpdate(ctx context.Context, updateId int64) (bool, error) {
	connection, err := m.connect()
	if err != nil {
		return false, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(processedUpdatesCollection)

	doc := bson.D{
		{Key: "_id", Value: updateId},
		{Key: "created_at", Value: time.Now()},
	}

	_, err = collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return true, nil
		}
		return false, fmt.Errorf("mongodb record update: %w", err)
	}

	return false, nil
}
