package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"SportRelay/entity"
)

// ErrSubmissionNotFound is returned when an operation targets an id that no
// longer exists in the store.
var ErrSubmissionNotFound = errors.New("submission not found")

// activeFilter matches submissions that still own the user's dialogue:
// everything non-terminal, plus delivery failures awaiting a manual retry.
func activeFilter(userId int64) bson.D {
	return bson.D{
		{Key: "user_id", Value: userId},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{
				entity.StatusCollecting,
				entity.StatusConfirming,
				entity.StatusSending,
				entity.StatusPendingSend,
			}}}}},
			bson.D{
				{Key: "status", Value: entity.StatusFailed},
				{Key: "fail_reason", Value: bson.D{{Key: "$in", Value: bson.A{
					entity.FailDeliveryError,
					entity.FailAttemptsExhausted,
				}}}},
			},
		}},
	}
}

// FindActive returns the newest submission still owning the user's
// dialogue, or nil when there is none.
func (m *MongoDB) FindActive(ctx context.Context, userId int64) (*entity.Submission, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(submissionsCollection)
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var sub entity.Submission
	err = collection.FindOne(ctx, activeFilter(userId), opts).Decode(&sub)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, m.findError(err)
	}

	return &sub, nil
}

// CreateSubmission inserts a fresh collecting submission for the user.
func (m *MongoDB) CreateSubmission(ctx context.Context, userId, chatId int64, kind entity.Kind) (*entity.Submission, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	now := time.Now()
	sub := &entity.Submission{
		Id:        uuid.NewString(),
		UserId:    userId,
		ChatId:    chatId,
		Kind:      kind,
		Photos:    []entity.Photo{},
		Status:    entity.StatusCollecting,
		CreatedAt: now,
		UpdatedAt: now,
	}

	collection := connection.Database(m.database).Collection(submissionsCollection)
	if _, err = collection.InsertOne(ctx, sub); err != nil {
		return nil, fmt.Errorf("mongodb insert error: %w", err)
	}

	return sub, nil
}

// SaveSubmission replaces the stored document with the in-memory one.
func (m *MongoDB) SaveSubmission(ctx context.Context, sub *entity.Submission) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	sub.UpdatedAt = time.Now()

	collection := connection.Database(m.database).Collection(submissionsCollection)
	filter := bson.D{{Key: "_id", Value: sub.Id}}

	result, err := collection.ReplaceOne(ctx, filter, sub)
	if err != nil {
		return fmt.Errorf("mongodb replace error: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrSubmissionNotFound
	}

	return nil
}

// AppendPhoto adds (fileId, uniqueId) to the submission's photo list unless
// the dedup key is already present. The check and the push run as a single
// conditional update, so two concurrent appends for the same submission
// cannot both observe "not present yet". Returns the resulting photo count
// and whether this call added anything.
func (m *MongoDB) AppendPhoto(ctx context.Context, id, fileId, uniqueId string) (int, bool, error) {
	connection, err := m.connect()
	if err != nil {
		return 0, false, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(submissionsCollection)

	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "photos.unique_id", Value: bson.D{{Key: "$ne", Value: uniqueId}}},
	}
	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "photos", Value: entity.Photo{FileId: fileId, UniqueId: uniqueId}}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now()}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var sub entity.Submission
	err = collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&sub)
	if err == nil {
		return len(sub.Photos), true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, fmt.Errorf("mongodb append photo: %w", err)
	}

	// No match: either the key is already in the list or the submission is
	// gone. Re-read to tell the two apart and report the unchanged count.
	err = collection.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&sub)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, false, ErrSubmissionNotFound
		}
		return 0, false, m.findError(err)
	}

	return len(sub.Photos), false, nil
}

// ClaimPending atomically flips up to limit pending_send submissions whose
// retry time has arrived into sending, oldest first. Each claim is a
// compare-and-swap on the status, so concurrent sweeps never both transmit
// the same submission.
func (m *MongoDB) ClaimPending(ctx context.Context, limit int) ([]entity.Submission, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(submissionsCollection)

	now := time.Now()
	filter := bson.D{
		{Key: "status", Value: entity.StatusPendingSend},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "next_retry_at", Value: nil}},
			bson.D{{Key: "next_retry_at", Value: bson.D{{Key: "$lte", Value: now}}}},
		}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: entity.StatusSending},
		{Key: "updated_at", Value: now},
	}}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "created_at", Value: 1}})

	var claimed []entity.Submission
	for i := 0; i < limit; i++ {
		var sub entity.Submission
		err = collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&sub)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				break
			}
			return claimed, fmt.Errorf("mongodb claim pending: %w", err)
		}
		claimed = append(claimed, sub)
	}

	return claimed, nil
}

// UpdateStatus flips the lifecycle status and fail reason without touching
// the rest of the document. Status moves use this instead of a full replace
// so they can never overwrite a concurrently appended photo.
func (m *MongoDB) UpdateStatus(ctx context.Context, id string, status entity.Status, reason entity.FailReason) error {
	return m.updateSubmission(ctx, id, bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status", Value: status},
			{Key: "fail_reason", Value: reason},
			{Key: "updated_at", Value: time.Now()},
		}},
	})
}

// SetPromptMessage records the id of the latest photo-count prompt.
func (m *MongoDB) SetPromptMessage(ctx context.Context, id string, messageId int64) error {
	return m.updateSubmission(ctx, id, bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "prompt_message_id", Value: messageId},
			{Key: "updated_at", Value: time.Now()},
		}},
	})
}

// MarkSent records a successful delivery and clears the retry bookkeeping.
func (m *MongoDB) MarkSent(ctx context.Context, id string) error {
	return m.updateSubmission(ctx, id, bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status", Value: entity.StatusSent},
			{Key: "fail_reason", Value: ""},
			{Key: "last_error", Value: ""},
			{Key: "next_retry_at", Value: nil},
			{Key: "attempts", Value: 0},
			{Key: "updated_at", Value: time.Now()},
		}},
	})
}

// MarkFailed records a delivery failure and bumps the attempt counter.
func (m *MongoDB) MarkFailed(ctx context.Context, id string, reason entity.FailReason, errText string) error {
	return m.updateSubmission(ctx, id, bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status", Value: entity.StatusFailed},
			{Key: "fail_reason", Value: reason},
			{Key: "last_error", Value: errText},
			{Key: "next_retry_at", Value: nil},
			{Key: "updated_at", Value: time.Now()},
		}},
		{Key: "$inc", Value: bson.D{{Key: "attempts", Value: 1}}},
	})
}

// MarkRetryAfter reschedules a rate-limited submission: back to
// pending_send with the next eligible time derived from the platform hint.
func (m *MongoDB) MarkRetryAfter(ctx context.Context, id string, seconds int, errText string) error {
	retryAt := time.Now().Add(time.Duration(seconds) * time.Second)
	return m.updateSubmission(ctx, id, bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status", Value: entity.StatusPendingSend},
			{Key: "last_error", Value: errText},
			{Key: "next_retry_at", Value: retryAt},
			{Key: "updated_at", Value: time.Now()},
		}},
		{Key: "$inc", Value: bson.D{{Key: "attempts", Value: 1}}},
	})
}

func (m *MongoDB) updateSubmission(ctx context.Context, id string, update bson.D) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(submissionsCollection)

	result, err := collection.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return fmt.Errorf("mongodb update error: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrSubmissionNotFound
	}

	return nil
}
