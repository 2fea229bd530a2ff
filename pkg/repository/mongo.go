package repository

import (
	"context"
	"time"

	"github.com/example/printshop/pkg/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type MongoRepository struct {
	client   *mongo.Client
	database *mongo.Database
	config   *config.MongoDBConfig
}

func NewMongoRepository(cfg *config.MongoDBConfig) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}

	return &MongoRepository{
		client:   client,
		database: client.Database(cfg.Database),
		config:   cfg,
	}, nil
}

func (m *MongoRepository) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// AuditLog is one order event: a file added or removed, or a checkout.
type AuditLog struct {
	ID        string    `bson:"_id,omitempty"`
	Service   string    `bson:"service"`
	Action    string    `bson:"action"`
	EntityID  string    `bson:"entity_id"`
	Data      bson.M    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
}

func (m *MongoRepository) CreateAuditLog(ctx context.Context, log *AuditLog) error {
	collection := m.database.Collection(m.config.Collection)
	log.CreatedAt = time.Now()
	_, err := collection.InsertOne(ctx, log)
	return err
}

// GetAuditLogs returns the newest entries for a session first.
func (m *MongoRepository) GetAuditLogs(ctx context.Context, entityID string, limit int64) ([]*AuditLog, error) {
	collection := m.database.Collection(m.config.Collection)

	filter := bson.M{"entity_id": entityID}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var logs []*AuditLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, err
	}

	return logs, nil
}

// Auditor writes order events to MongoDB without blocking the caller.
type Auditor struct {
	mongo   *MongoRepository
	service string
	logger  *zap.Logger
}

// NewAuditor records order events as audit logs tagged with service.
func NewAuditor(m *MongoRepository, service string, logger *zap.Logger) *Auditor {
	return &Auditor{mongo: m, service: service, logger: logger.Named("audit")}
}

// Record writes in the background; failures are logged, never returned.
func (a *Auditor) Record(_ context.Context, action, entityID string, data map[string]interface{}) {
	entry := &AuditLog{
		Service:  a.service,
		Action:   action,
		EntityID: entityID,
		Data:     bson.M(data),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.mongo.CreateAuditLog(ctx, entry); err != nil {
			a.logger.Warn("Failed to write audit log",
				zap.String("action", action),
				zap.String("entity_id", entityID),
				zap.Error(err))
		}
	}()
}
