package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/boardscrape/internal/types"
)

// MongoStore keeps one document per record in a MongoDB collection, keyed by
// a unique index on url.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	mu         sync.Mutex
	logger     *slog.Logger
}

// NewMongoStore connects to MongoDB and prepares the collection.
func NewMongoStore(ctx context.Context, uri, database, collection string, logger *slog.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("connect: %w", err)}
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("ping: %w", err)}
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "url", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("create url index: %w", err)}
	}

	return &MongoStore{
		client:     client,
		collection: coll,
		logger:     logger.With("component", "mongo_store", "collection", collection),
	}, nil
}

func (s *MongoStore) Name() string { return "mongodb" }

func (s *MongoStore) Load(ctx context.Context) ([]*types.ArticleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := options.Find().SetSort(bson.D{{Key: "sequence_number", Value: 1}})
	cur, err := s.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("find: %w", err)}
	}
	defer cur.Close(ctx)

	records := []*types.ArticleRecord{}
	if err := cur.All(ctx, &records); err != nil {
		return nil, &types.CorruptStoreError{Path: s.collection.Name(), Err: err}
	}
	normalize(records)
	return records, nil
}

// Save upserts every record by url and then removes documents that are no
// longer part of the collection. Each document is replaced atomically.
func (s *MongoStore) Save(ctx context.Context, records []*types.ArticleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(records) == 0 {
		if _, err := s.collection.DeleteMany(ctx, bson.D{}); err != nil {
			return &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("clear: %w", err)}
		}
		return nil
	}

	models := make([]mongo.WriteModel, len(records))
	urls := make([]string, len(records))
	for i, r := range records {
		doc := r.Clone()
		doc.Comments = nonNil(doc.Comments)
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "url", Value: r.URL}}).
			SetReplacement(doc).
			SetUpsert(true)
		urls[i] = r.URL
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := s.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("bulk write: %w", err)}
	}
	if _, err := s.collection.DeleteMany(ctx, bson.D{{Key: "url", Value: bson.D{{Key: "$nin", Value: urls}}}}); err != nil {
		return &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("prune: %w", err)}
	}

	s.logger.Debug("store saved", "records", len(records),
		"upserted", res.UpsertedCount, "modified", res.ModifiedCount)
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
