package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"convoingest/internal/db"
	"convoingest/internal/model"
)

// conversationDocument is the stored shape. Opaque provider blobs are kept
// as raw BSON holding only JSON-native values.
type conversationDocument struct {
	ID              string                 `bson:"_id"`
	ConversationID  string                 `bson:"conversation_id"`
	AgentID         string                 `bson:"agent_id"`
	UserID          *string                `bson:"user_id,omitempty"`
	Status          *string                `bson:"status,omitempty"`
	StartTime       *time.Time             `bson:"start_time,omitempty"`
	DurationSeconds *int                   `bson:"duration_seconds,omitempty"`
	Cost            *float64               `bson:"cost,omitempty"`
	Transcript      []model.TranscriptTurn `bson:"transcript"`
	Analysis        bson.Raw               `bson:"analysis,omitempty"`
	Metadata        bson.Raw               `bson:"metadata,omitempty"`
	InitiationData  bson.Raw               `bson:"conversation_initiation_client_data,omitempty"`
	CreatedAt       time.Time              `bson:"created_at"`
}

type mongoRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewMongoRepository creates a repository over the conversations collection
// of database.
func NewMongoRepository(database *mongo.Database) ConversationRepository {
	return &mongoRepository{
		collection: database.Collection(db.ConversationsTable),
		now:        time.Now,
	}
}

// EnsureMongoIndexes creates the unique conversation_id index and the
// listing index.
func EnsureMongoIndexes(ctx context.Context, database *mongo.Database) error {
	collection := database.Collection(db.ConversationsTable)
	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_conversation_id"),
		},
		{
			Keys:    bson.D{{Key: "agent_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_agent_created"),
		},
	})
	if err != nil {
		return eris.Wrap(err, "repository: create mongo indexes")
	}
	return nil
}

func (r *mongoRepository) Exists(ctx context.Context, conversationID string) (bool, error) {
	n, err := r.collection.CountDocuments(ctx,
		bson.M{"conversation_id": conversationID},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, eris.Wrap(err, "repository: check conversation exists")
	}
	return n > 0, nil
}

func (r *mongoRepository) Insert(ctx context.Context, rec *model.ConversationRecord) error {
	prepareInsert(rec, r.now)

	doc := conversationDocument{
		ID:              rec.ID.String(),
		ConversationID:  rec.ConversationID,
		AgentID:         rec.AgentID,
		UserID:          rec.UserID,
		Status:          rec.Status,
		StartTime:       rec.StartTime,
		DurationSeconds: rec.DurationSeconds,
		Cost:            rec.Cost,
		Transcript:      rec.Transcript,
		CreatedAt:       rec.CreatedAt,
	}

	var err error
	if doc.Analysis, err = toRawDocument(rec.MergedAnalysis()); err != nil {
		return eris.Wrap(err, "repository: encode analysis")
	}
	if doc.Metadata, err = toRawDocument(rec.Metadata); err != nil {
		return eris.Wrap(err, "repository: encode metadata")
	}
	if doc.InitiationData, err = toRawDocument(rec.InitiationData); err != nil {
		return eris.Wrap(err, "repository: encode initiation data")
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return eris.Wrap(err, "repository: insert conversation")
	}
	return nil
}

func (r *mongoRepository) GetByConversationID(ctx context.Context, conversationID string) (*model.ConversationRecord, error) {
	var doc conversationDocument
	err := r.collection.FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "repository: get conversation %s", conversationID)
	}
	return doc.toRecord()
}

func (r *mongoRepository) List(ctx context.Context, opts ListOptions) ([]model.ConversationRecord, error) {
	opts = opts.Normalized()

	filter := bson.M{}
	if opts.AgentID != "" {
		filter["agent_id"] = opts.AgentID
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "conversation_id", Value: -1}}).
		SetSkip(int64(opts.Offset)).
		SetLimit(int64(opts.Limit))

	cursor, err := r.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, eris.Wrap(err, "repository: list conversations")
	}
	defer cursor.Close(ctx)

	records := make([]model.ConversationRecord, 0, opts.Limit)
	for cursor.Next(ctx) {
		var doc conversationDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, eris.Wrap(err, "repository: decode conversation")
		}
		rec, err := doc.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, eris.Wrap(err, "repository: cursor error")
	}
	return records, nil
}

func (d *conversationDocument) toRecord() (*model.ConversationRecord, error) {
	rec := &model.ConversationRecord{
		ConversationID:  d.ConversationID,
		AgentID:         d.AgentID,
		UserID:          d.UserID,
		Status:          d.Status,
		DurationSeconds: d.DurationSeconds,
		Cost:            d.Cost,
		Transcript:      d.Transcript,
		CreatedAt:       d.CreatedAt.UTC(),
	}
	if err := rec.ID.UnmarshalText([]byte(d.ID)); err != nil {
		return nil, eris.Wrapf(err, "repository: parse id %q", d.ID)
	}
	if d.StartTime != nil {
		t := d.StartTime.UTC()
		rec.StartTime = &t
	}
	if rec.Transcript == nil {
		rec.Transcript = []model.TranscriptTurn{}
	}

	merged, err := fromRawDocument(d.Analysis)
	if err != nil {
		return nil, eris.Wrap(err, "repository: decode analysis")
	}
	if rec.ProviderAnalysis, rec.AIAnalysis, err = model.SplitAnalysis(merged); err != nil {
		return nil, eris.Wrap(err, "repository: split analysis")
	}
	if rec.Metadata, err = fromRawDocument(d.Metadata); err != nil {
		return nil, eris.Wrap(err, "repository: decode metadata")
	}
	if rec.InitiationData, err = fromRawDocument(d.InitiationData); err != nil {
		return nil, eris.Wrap(err, "repository: decode initiation data")
	}
	return rec, nil
}

// toRawDocument flattens v to JSON-native values before encoding so that
// reads return the same shapes the JSON-backed stores do.
func toRawDocument(v map[string]interface{}) (bson.Raw, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var plain map[string]interface{}
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, err
	}
	return bson.Marshal(plain)
}

func fromRawDocument(raw bson.Raw) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ext, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(ext, &out); err != nil {
		return nil, err
	}
	return out, nil
}
