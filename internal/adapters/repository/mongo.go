package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps one MongoDB collection per record kind.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects and pings the server.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: mongo connect: %w", ErrStorageUnavailable, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%w: mongo ping: %w", ErrStorageUnavailable, err)
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

// EnsureIndexes creates the lookup indexes used by the read paths.
func (s *MongoStore) EnsureIndexes(ctx context.Context, collections []string) error {
	for _, c := range collections {
		_, err := s.db.Collection(c).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "vehicleId", Value: 1}, {Key: DefaultSortKey, Value: -1}},
		})
		if err != nil {
			return fmt.Errorf("%w: mongo index %s: %w", ErrStorageUnavailable, c, err)
		}
	}
	return nil
}

// Ping checks connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Insert(ctx context.Context, collection string, record any) error {
	doc, err := ToDocument(record)
	if err != nil {
		return err
	}
	if _, err := s.db.Collection(collection).InsertOne(ctx, bson.M(doc)); err != nil {
		return fmt.Errorf("%w: mongo insert %s: %w", ErrStorageUnavailable, collection, err)
	}
	return nil
}

func (s *MongoStore) InsertMany(ctx context.Context, collection string, records []any) error {
	docs := make([]any, 0, len(records))
	for _, r := range records {
		doc, err := ToDocument(r)
		if err != nil {
			return err
		}
		docs = append(docs, bson.M(doc))
	}
	if _, err := s.db.Collection(collection).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("%w: mongo insert many %s: %w", ErrStorageUnavailable, collection, err)
	}
	return nil
}

func (s *MongoStore) FindLatest(ctx context.Context, collection string, filter Filter, sortKey string) (Document, error) {
	if sortKey == "" {
		sortKey = DefaultSortKey
	}
	opts := options.FindOne().SetSort(bson.D{{Key: sortKey, Value: -1}})
	res := s.db.Collection(collection).FindOne(ctx, bsonFilter(filter), opts)
	if errors.Is(res.Err(), mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	var m bson.M
	if err := res.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: mongo find %s: %w", ErrStorageUnavailable, collection, err)
	}
	return fromBSON(m), nil
}

func (s *MongoStore) FindMany(ctx context.Context, collection string, filter Filter, limit int) ([]Document, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	opts := options.Find().SetSort(bson.D{{Key: DefaultSortKey, Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.db.Collection(collection).Find(ctx, bsonFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("%w: mongo find %s: %w", ErrStorageUnavailable, collection, err)
	}
	var rows []bson.M
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("%w: mongo cursor %s: %w", ErrStorageUnavailable, collection, err)
	}
	out := make([]Document, len(rows))
	for i, r := range rows {
		out[i] = fromBSON(r)
	}
	return out, nil
}

func (s *MongoStore) Upsert(ctx context.Context, collection string, filter Filter, patch any) error {
	fields, err := ToDocument(patch)
	if err != nil {
		return err
	}
	_, err = s.db.Collection(collection).UpdateOne(ctx, bsonFilter(filter),
		bson.M{"$set": bson.M(fields)}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: mongo upsert %s: %w", ErrStorageUnavailable, collection, err)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, collection string, filter Filter) (int, error) {
	res, err := s.db.Collection(collection).DeleteMany(ctx, bsonFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("%w: mongo delete %s: %w", ErrStorageUnavailable, collection, err)
	}
	return int(res.DeletedCount), nil
}

func bsonFilter(f Filter) bson.M {
	if f == nil {
		return bson.M{}
	}
	return bson.M(f)
}

// fromBSON flattens driver types into plain JSON-like values.
func fromBSON(m bson.M) Document {
	doc := make(Document, len(m))
	for k, v := range m {
		doc[k] = plain(v)
	}
	return doc
}

func plain(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case bson.M:
		return map[string]any(fromBSON(t))
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
