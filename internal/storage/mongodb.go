package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bosocmputer/identity_ocr_gemini/internal/identity"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RecordsCollection holds one merged record per document number.
const RecordsCollection = "identity_records"

// ErrNoDocumentNumber means a record cannot be keyed and is not persisted.
var ErrNoDocumentNumber = errors.New("record has no document number")

// StoredRecord is the persisted shape.
type StoredRecord struct {
	DocumentNumber           string `bson:"document_number" json:"document_number"`
	identity.FlattenedRecord `bson:",inline"`
	CreatedAt                time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt                time.Time `bson:"updated_at" json:"updated_at"`
}

// recordCollection is the slice of collection behaviour RecordStore needs.
type recordCollection interface {
	FindByDocumentNumber(ctx context.Context, number string) (*StoredRecord, error)
	Upsert(ctx context.Context, rec *StoredRecord) error
}

// RecordStore persists flattened records, merging with what is already stored.
type RecordStore struct {
	client *mongo.Client
	coll   recordCollection
	logger *slog.Logger
	now    func() time.Time
}

// ConnectRecordStore connects, pings and returns the store.
func ConnectRecordStore(ctx context.Context, uri, dbName string, logger *slog.Logger) (*RecordStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(dbName).Collection(RecordsCollection)
	store := newRecordStore(mongoRecordCollection{coll: coll}, logger)
	store.client = client
	store.logger.Info("mongo.connected", "database", dbName, "collection", RecordsCollection)
	return store, nil
}

func newRecordStore(coll recordCollection, logger *slog.Logger) *RecordStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordStore{coll: coll, logger: logger, now: time.Now}
}

// Close disconnects the client.
func (s *RecordStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Save merges rec into the stored record with the same document number and writes the
// result when anything changed.
func (s *RecordStore) Save(ctx context.Context, rec identity.FlattenedRecord) (identity.MergeResult, error) {
	number := rec.DocumentNumber()
	if number == "" {
		return identity.MergeResult{Record: rec}, ErrNoDocumentNumber
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	existing, err := s.coll.FindByDocumentNumber(ctx, number)
	if err != nil {
		return identity.MergeResult{}, fmt.Errorf("failed to query identity record: %w", err)
	}

	now := s.now()
	if existing == nil {
		stored := &StoredRecord{DocumentNumber: number, FlattenedRecord: rec, CreatedAt: now, UpdatedAt: now}
		if err := s.coll.Upsert(ctx, stored); err != nil {
			return identity.MergeResult{}, fmt.Errorf("failed to insert identity record: %w", err)
		}
		s.logger.Info("record.created", "document_number_suffix", suffix(number))
		return identity.MergeResult{Record: rec}, nil
	}

	result := identity.Merge(existing.FlattenedRecord, rec)
	if len(result.Skipped) > 0 {
		s.logger.Info("record.merge.conflicts", "document_number_suffix", suffix(number), "skipped", result.Skipped)
	}
	if !result.Changed() {
		return result, nil
	}

	stored := &StoredRecord{DocumentNumber: number, FlattenedRecord: result.Record, CreatedAt: existing.CreatedAt, UpdatedAt: now}
	if err := s.coll.Upsert(ctx, stored); err != nil {
		return identity.MergeResult{}, fmt.Errorf("failed to update identity record: %w", err)
	}
	s.logger.Info("record.updated", "document_number_suffix", suffix(number), "fields", result.Updated)
	return result, nil
}

// suffix keeps identity numbers out of logs except the last four characters.
func suffix(number string) string {
	if len(number) <= 4 {
		return "****"
	}
	return "****" + number[len(number)-4:]
}

type mongoRecordCollection struct {
	coll *mongo.Collection
}

func (m mongoRecordCollection) FindByDocumentNumber(ctx context.Context, number string) (*StoredRecord, error) {
	var rec StoredRecord
	err := m.coll.FindOne(ctx, bson.M{"document_number": number}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (m mongoRecordCollection) Upsert(ctx context.Context, rec *StoredRecord) error {
	_, err := m.coll.ReplaceOne(ctx, bson.M{"document_number": rec.DocumentNumber}, rec, options.Replace().SetUpsert(true))
	return err
}
