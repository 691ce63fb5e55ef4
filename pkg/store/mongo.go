package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore backs the document store contract with a MongoDB database.
// Documents are keyed on _id.
type MongoStore struct {
	db *mongo.Database
}

// NewMongoStore connects to the given MongoDB URI and selects database. The
// connection is verified with a ping before the store is returned.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping failed: %w", err)
	}

	return &MongoStore{db: client.Database(database)}, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

// Get implements Store.
func (s *MongoStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var doc Document
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// Query implements Store.
func (s *MongoStore) Query(ctx context.Context, collection string, filters []Filter, limit int) ([]Document, error) {
	query := bson.M{}
	for _, f := range filters {
		switch f.Op {
		case OpEq:
			query[f.Field] = f.Value
		case OpGte:
			query[f.Field] = mergeRange(query[f.Field], "$gte", f.Value)
		case OpLte:
			query[f.Field] = mergeRange(query[f.Field], "$lte", f.Value)
		}
	}

	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(collection).Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb query %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var out []Document
	for cursor.Next(ctx) {
		var doc Document
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongodb decode %s: %w", collection, err)
		}
		out = append(out, doc)
	}
	return out, cursor.Err()
}

// Put implements Store.
func (s *MongoStore) Put(ctx context.Context, collection, id string, doc Document) error {
	_, err := s.db.Collection(collection).ReplaceOne(ctx,
		bson.M{"_id": id},
		doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb put %s/%s: %w", collection, id, err)
	}
	return nil
}

// mergeRange folds multiple range operators on the same field into one
// bson.M, so Gte and Lte filters can be combined.
func mergeRange(existing interface{}, op string, value interface{}) bson.M {
	m, ok := existing.(bson.M)
	if !ok {
		m = bson.M{}
	}
	m[op] = value
	return m
}
