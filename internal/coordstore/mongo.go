package coordstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tripsync/internal/model"
	"tripsync/internal/tripsync"
)

const (
	defaultMongoDatabase   = "tripsync"
	defaultMongoCollection = "coordinates"
)

// coordinateDoc is the MongoDB document for one airport code. The code is
// the document _id.
type coordinateDoc struct {
	Code       string    `bson:"_id"`
	Latitude   float64   `bson:"latitude"`
	Longitude  float64   `bson:"longitude"`
	Provenance string    `bson:"provenance"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

// MongoStore keeps shared coordinates in a MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	clock      tripsync.Clock
}

// NewMongoStore connects to uri and verifies the connection.
func NewMongoStore(ctx context.Context, uri, database, collection string, clock tripsync.Clock) (*MongoStore, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo coordinate store requires mongo_uri to be set")
	}
	if database == "" {
		database = defaultMongoDatabase
	}
	if collection == "" {
		collection = defaultMongoCollection
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		clock:      clock,
	}, nil
}

func (s *MongoStore) Lookup(ctx context.Context, code string) (*model.CoordinateRecord, error) {
	var doc coordinateDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": code}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", code, err)
	}
	return &model.CoordinateRecord{
		Code:       doc.Code,
		Latitude:   doc.Latitude,
		Longitude:  doc.Longitude,
		Provenance: doc.Provenance,
	}, nil
}

func (s *MongoStore) Publish(ctx context.Context, c model.CoordinateRecord) error {
	if err := c.Validate(); err != nil {
		return err
	}
	doc := coordinateDoc{
		Code:       c.Code,
		Latitude:   c.Latitude,
		Longitude:  c.Longitude,
		Provenance: c.Provenance,
		UpdatedAt:  s.clock.Now().UTC(),
	}
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": c.Code}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("publishing %s: %w", c.Code, err)
	}
	return nil
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var _ tripsync.CoordinateStore = (*MongoStore)(nil)
