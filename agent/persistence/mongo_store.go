package persistence

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// MongoStoreConfig MongoDB 存储配置
type MongoStoreConfig struct {
	URI        string `json:"uri" yaml:"uri"`
	Database   string `json:"database" yaml:"database"`
	Collection string `json:"collection" yaml:"collection"`
}

// DefaultMongoStoreConfig returns the default MongoDB configuration
func DefaultMongoStoreConfig() MongoStoreConfig {
	return MongoStoreConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "agenttree",
		Collection: "agent_runs",
	}
}

// MongoStore 每次运行一个文档，以 agent_id 唯一。
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

// ConnectMongo 连接 MongoDB 并确保索引存在。
func ConnectMongo(ctx context.Context, cfg MongoStoreConfig, logger *zap.Logger) (*MongoStore, error) {
	def := DefaultMongoStoreConfig()
	if cfg.URI == "" {
		cfg.URI = def.URI
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := NewMongoStore(client, cfg, logger)
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// NewMongoStore wraps an existing client.
func NewMongoStore(client *mongo.Client, cfg MongoStoreConfig, logger *zap.Logger) *MongoStore {
	def := DefaultMongoStoreConfig()
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		logger: logger.With(zap.String("component", "run_store"), zap.String("backend", "mongo")),
	}
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "agent_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "request_id", Value: 1}, {Key: "started_at", Value: 1}}},
		{Keys: bson.D{{Key: "finished_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create mongo indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) RecordRun(ctx context.Context, rec RunRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"agent_id": rec.AgentID},
		rec,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.AgentID, err)
	}
	return nil
}

func (s *MongoStore) ListRuns(ctx context.Context, requestID string) ([]RunRecord, error) {
	cur, err := s.coll.Find(ctx,
		bson.M{"request_id": requestID},
		options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list runs %s: %w", requestID, err)
	}
	var out []RunRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"finished_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
