package mongodb

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"docs-rag/internal/config"
	"docs-rag/internal/helper"
	"docs-rag/internal/models"
)

const embeddingField = "embedding_vector"

type document struct {
	ID              string            `bson:"_id"`
	Text            string            `bson:"text"`
	Metadata        map[string]string `bson:"metadata"`
	EmbeddingVector []float32         `bson:"embedding_vector"`
}

// Store repurposes a document collection with a 2dsphere index for
// nearest-neighbour search. $nearSphere ranks by spherical distance over the
// raw coordinates, which only approximates cosine similarity; scores returned
// from Query are recomputed as cosine similarity but the ranking is the
// server's.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	indexName  string
}

// NewStore connects and pings the deployment.
func NewStore(ctx context.Context, cfg *config.MongoDBConfig) (*Store, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	log.Info().Str("database", cfg.Database).Str("collection", cfg.Collection).Msg("Connected to MongoDB")

	return &Store{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		indexName:  cfg.IndexName,
	}, nil
}

// EnsureIndex creates the 2dsphere index on the embedding field if absent.
func (s *Store) EnsureIndex(ctx context.Context) error {
	specs, err := s.collection.Indexes().ListSpecifications(ctx)
	if err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}
	for _, spec := range specs {
		if spec.Name == s.indexName {
			return nil
		}
	}

	_, err = s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: embeddingField, Value: "2dsphere"}},
		Options: options.Index().SetName(s.indexName),
	})
	if err != nil {
		return fmt.Errorf("create index %s: %w", s.indexName, err)
	}
	log.Info().Str("index", s.indexName).Msg("Vector search index created")
	return nil
}

func (s *Store) Upsert(ctx context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := s.collection.BulkWrite(ctx, upsertModels(records), options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("bulk upsert: %w", err)
	}
	return nil
}

func upsertModels(records []models.VectorRecord) []mongo.WriteModel {
	writes := make([]mongo.WriteModel, len(records))
	for i, r := range records {
		writes[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": r.ID}).
			SetReplacement(document{
				ID:              r.ID,
				Text:            r.Text,
				Metadata:        r.Metadata,
				EmbeddingVector: r.Embedding,
			}).
			SetUpsert(true)
	}
	return writes
}

func nearSphereFilter(vector []float32) bson.M {
	return bson.M{
		embeddingField: bson.M{
			"$nearSphere": bson.M{
				"$geometry": bson.M{
					"type":        "Point",
					"coordinates": vector,
				},
			},
		},
	}
}

func (s *Store) Query(ctx context.Context, vector []float32, topK int) ([]models.QueryResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	cursor, err := s.collection.Find(ctx, nearSphereFilter(vector), options.Find().SetLimit(int64(topK)))
	if err != nil {
		return nil, fmt.Errorf("nearSphere query: %w", err)
	}
	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	return toResults(docs, vector), nil
}

func toResults(docs []document, query []float32) []models.QueryResult {
	out := make([]models.QueryResult, len(docs))
	for i, d := range docs {
		out[i] = models.QueryResult{
			ID:       d.ID,
			Text:     d.Text,
			Metadata: d.Metadata,
			Score:    helper.CosineSimilarity(query, d.EmbeddingVector),
		}
	}
	return out
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.collection.CountDocuments(ctx, bson.D{})
	return int(n), err
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.collection.DeleteMany(ctx, bson.D{})
	return err
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}
