package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mala-sight/models"
)

const connectTimeout = 10 * time.Second

type MongoClient struct {
	client   *mongo.Client
	database *mongo.Database
}

type captureDocument struct {
	Key       string `bson:"_id"`
	Image     string `bson:"image"`
	Timestamp int64  `bson:"timestamp"`
	Date      string `bson:"date"`
	Note      string `bson:"note"`
}

func NewMongoClient(ctx context.Context, uri, database string) (*MongoClient, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		database = "malasight"
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("error pinging MongoDB: %w", err)
	}

	return &MongoClient{client: client, database: client.Database(database)}, nil
}

func (db *MongoClient) Close() error {
	if db.client != nil {
		return db.client.Disconnect(context.Background())
	}
	return nil
}

// StoreCapture inserts the record into the collection named after the archive
// collection, keyed by _id.
func (db *MongoClient) StoreCapture(ctx context.Context, key, collection string, record models.CaptureRecord) error {
	doc := captureDocument{
		Key:       key,
		Image:     record.Image,
		Timestamp: record.Timestamp,
		Date:      record.Date,
		Note:      record.Note,
	}
	if _, err := db.database.Collection(collection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("error storing capture: %w", err)
	}
	return nil
}

// Captures returns the newest records of a collection, newest first.
func (db *MongoClient) Captures(ctx context.Context, collection string, limit int) ([]models.StoredCapture, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(normalizeLimit(limit)))

	cursor, err := db.database.Collection(collection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying captures: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []captureDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("error decoding captures: %w", err)
	}

	captures := make([]models.StoredCapture, 0, len(docs))
	for _, d := range docs {
		captures = append(captures, models.StoredCapture{
			Key:        d.Key,
			Collection: collection,
			Record: models.CaptureRecord{
				Image:     d.Image,
				Timestamp: d.Timestamp,
				Date:      d.Date,
				Note:      d.Note,
			},
		})
	}
	return captures, nil
}
