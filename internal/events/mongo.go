package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/cankoe/reminder-scheduler/internal/models"
	"github.com/cankoe/reminder-scheduler/internal/notifier"
)

// mongoEvent is the stored shape of an event document.
type mongoEvent struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty"`
	Title                string             `bson:"title"`
	Location             string             `bson:"location"`
	Description          string             `bson:"description"`
	ScheduledAt          time.Time          `bson:"scheduled_at"`
	Recurrence           string             `bson:"recurrence,omitempty"`
	Active               bool               `bson:"active"`
	NotificationsEnabled bool               `bson:"notifications_enabled"`
	LeadTimes            string             `bson:"lead_times"`
	Recipients           []string           `bson:"recipients"`
	LastNotifiedAt       *time.Time         `bson:"last_notified_at"`
}

func (d mongoEvent) toModel() models.Event {
	ev := models.Event{
		ID:                   d.ID.Hex(),
		Title:                d.Title,
		Location:             d.Location,
		Description:          d.Description,
		ScheduledAt:          d.ScheduledAt.UTC(),
		Recurrence:           d.Recurrence,
		Active:               d.Active,
		NotificationsEnabled: d.NotificationsEnabled,
		LeadTimeSpec:         d.LeadTimes,
		Recipients:           d.Recipients,
	}
	if d.LastNotifiedAt != nil {
		at := d.LastNotifiedAt.UTC()
		ev.LastNotifiedAt = &at
	}
	return ev
}

// MongoRepository stores events in a single MongoDB collection.
type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

// EnsureIndexes creates the index used by ListCandidates.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	if _, err := r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "active", Value: 1},
			{Key: "notifications_enabled", Value: 1},
			{Key: "scheduled_at", Value: 1},
		},
	}); err != nil {
		return fmt.Errorf("failed to create index on events.scheduled_at: %w", err)
	}
	log.Info().Str("collection", r.col.Name()).Msg("Indexes ensured successfully")
	return nil
}

func (r *MongoRepository) ListCandidates(ctx context.Context, now time.Time) ([]models.Event, error) {
	cur, err := r.col.Find(ctx, candidateFilter(now))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Event
	for cur.Next(ctx) {
		var doc mongoEvent
		if err := cur.Decode(&doc); err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable event document")
			continue
		}
		out = append(out, doc.toModel())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepository) GetEvent(ctx context.Context, id string) (models.Event, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return models.Event{}, fmt.Errorf("%w: %s", notifier.ErrEventNotFound, id)
	}
	var doc mongoEvent
	if err := r.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Event{}, fmt.Errorf("%w: %s", notifier.ErrEventNotFound, id)
		}
		return models.Event{}, err
	}
	return doc.toModel(), nil
}

// MarkNotified only updates the document while last_notified_at still holds
// expected. A nil expected matches both null and a missing field.
func (r *MongoRepository) MarkNotified(ctx context.Context, id string, expected *time.Time, now time.Time) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, fmt.Errorf("%w: %s", notifier.ErrEventNotFound, id)
	}
	res, err := r.col.UpdateOne(ctx, claimFilter(oid, expected),
		bson.M{"$set": bson.M{"last_notified_at": storedInstant(now)}})
	if err != nil {
		log.Error().Err(err).Str("event_id", id).Msg("Failed to update last_notified_at")
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.col.Database().Client().Ping(ctx, nil)
}

func candidateFilter(now time.Time) bson.M {
	return bson.M{
		"active":                true,
		"notifications_enabled": true,
		"$or": bson.A{
			bson.M{"scheduled_at": bson.M{"$gt": now.UTC()}},
			bson.M{"recurrence": bson.M{"$exists": true, "$ne": ""}},
		},
	}
}

func claimFilter(oid primitive.ObjectID, expected *time.Time) bson.M {
	filter := bson.M{"_id": oid, "last_notified_at": nil}
	if expected != nil {
		filter["last_notified_at"] = storedInstant(*expected)
	}
	return filter
}

// storedInstant truncates to the millisecond precision both backends keep,
// so the stored value never lies after the run that wrote it.
func storedInstant(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
