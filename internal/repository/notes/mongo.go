package notes

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/0xMiden/miden-note-transport/internal/model"
)

const mongoDatabase = "note_transport"

type (
	// MongoStore is the durable document backend.
	MongoStore struct {
		client   *mongo.Client
		notes    *mongo.Collection
		settings *mongo.Collection
		version  *mongo.Collection
	}

	mongoNote struct {
		ID        []byte `bson:"_id"`
		Tag       int64  `bson:"tag"`
		Header    []byte `bson:"header"`
		Details   []byte `bson:"details"`
		CreatedAt int64  `bson:"created_at"`
	}

	mongoSetting struct {
		Key   string `bson:"_id"`
		Value string `bson:"value"`
	}
)

// OpenMongoStore connects to the MongoDB deployment at url and ensures
// the secondary index and schema version.
func OpenMongoStore(ctx context.Context, url string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(mongoDatabase)
	s := &MongoStore{
		client:   client,
		notes:    db.Collection("notes"),
		settings: db.Collection("settings"),
		version:  db.Collection("schema_version"),
	}

	_, err = s.notes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tag", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("create mongodb index: %w", err)
	}
	if err := s.checkSchemaVersion(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) checkSchemaVersion(ctx context.Context) error {
	var doc struct {
		Version int64 `bson:"version"`
	}
	err := s.version.FindOne(ctx, bson.M{}).Decode(&doc)
	switch {
	case err == mongo.ErrNoDocuments:
		_, err = s.version.InsertOne(ctx, bson.M{"version": SchemaVersion})
		if err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case doc.Version > SchemaVersion:
		return fmt.Errorf("mongodb schema version %d is newer than supported %d", doc.Version, SchemaVersion)
	}
	return nil
}

func (s *MongoStore) Insert(ctx context.Context, note *model.Note) (bool, error) {
	doc := mongoNote{
		ID:        note.ID[:],
		Tag:       int64(note.Tag),
		Header:    note.Header,
		Details:   note.Details,
		CreatedAt: note.CreatedAt,
	}
	_, err := s.notes.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mongodb insert: %w: %w", model.ErrUnavailable, err)
	}
	return true, nil
}

func (s *MongoStore) QueryByTag(ctx context.Context, tag uint32, cursor model.Cursor, limit int) ([]*model.Note, error) {
	// Composite exclusive cursor: strictly after (created_at, id). All
	// ids are equal-length binaries, so $gt on _id is a byte order.
	filter := bson.M{
		"tag": int64(tag),
		"$or": bson.A{
			bson.M{"created_at": bson.M{"$gt": cursor.CreatedAt}},
			bson.M{"created_at": cursor.CreatedAt, "_id": bson.M{"$gt": cursor.ID[:]}},
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := s.notes.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb query: %w: %w", model.ErrUnavailable, err)
	}
	var docs []mongoNote
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb query: %w: %w", model.ErrUnavailable, err)
	}

	out := make([]*model.Note, 0, len(docs))
	for _, doc := range docs {
		n := &model.Note{
			Tag:       uint32(doc.Tag),
			Header:    doc.Header,
			Details:   doc.Details,
			CreatedAt: doc.CreatedAt,
		}
		if len(doc.ID) != model.IDSize {
			return nil, fmt.Errorf("mongodb query: malformed note id of %d bytes", len(doc.ID))
		}
		copy(n.ID[:], doc.ID)
		out = append(out, n)
	}
	return out, nil
}

func (s *MongoStore) DeleteOlderThan(ctx context.Context, cutoffMS int64) (int64, error) {
	res, err := s.notes.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lte": cutoffMS}})
	if err != nil {
		return 0, fmt.Errorf("mongodb delete: %w: %w", model.ErrUnavailable, err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) CountByTag(ctx context.Context, tag uint32) (int64, error) {
	count, err := s.notes.CountDocuments(ctx, bson.M{"tag": int64(tag)})
	if err != nil {
		return 0, fmt.Errorf("mongodb count: %w: %w", model.ErrUnavailable, err)
	}
	return count, nil
}

func (s *MongoStore) CountTotal(ctx context.Context) (int64, error) {
	count, err := s.notes.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("mongodb count: %w: %w", model.ErrUnavailable, err)
	}
	return count, nil
}

func (s *MongoStore) CountTags(ctx context.Context) (int64, error) {
	tags, err := s.notes.Distinct(ctx, "tag", bson.M{})
	if err != nil {
		return 0, fmt.Errorf("mongodb distinct: %w: %w", model.ErrUnavailable, err)
	}
	return int64(len(tags)), nil
}

func (s *MongoStore) MaxCreatedAt(ctx context.Context) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var doc mongoNote
	err := s.notes.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("mongodb max created_at: %w: %w", model.ErrUnavailable, err)
	}
	return doc.CreatedAt, nil
}

func (s *MongoStore) Setting(ctx context.Context, key string) (string, error) {
	var doc mongoSetting
	err := s.settings.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("mongodb setting: %w: %w", model.ErrUnavailable, err)
	}
	return doc.Value, nil
}

func (s *MongoStore) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.settings.ReplaceOne(ctx,
		bson.M{"_id": key},
		mongoSetting{Key: key, Value: value},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongodb put setting: %w: %w", model.ErrUnavailable, err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
