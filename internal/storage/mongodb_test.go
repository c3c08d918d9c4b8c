package storage

import (
	"context"
	"testing"
	"time"

	"github.com/bosocmputer/identity_ocr_gemini/configs"
	"github.com/bosocmputer/identity_ocr_gemini/internal/identity"
	"github.com/bosocmputer/identity_ocr_gemini/internal/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecordCollection struct {
	docs    map[string]*StoredRecord
	upserts int
}

func (f *fakeRecordCollection) FindByDocumentNumber(_ context.Context, number string) (*StoredRecord, error) {
	if rec, ok := f.docs[number]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeRecordCollection) Upsert(_ context.Context, rec *StoredRecord) error {
	f.upserts++
	f.docs[rec.DocumentNumber] = rec
	return nil
}

func TestRecordStoreSaveCreatesThenMerges(t *testing.T) {
	coll := &fakeRecordCollection{docs: map[string]*StoredRecord{}}
	store := newRecordStore(coll, nil)
	ctx := context.Background()

	first := identity.FlattenedRecord{FullName: "Jane Doe", IDNumber: "1234567890123", Confidence: 0.9}
	_, err := store.Save(ctx, first)
	require.NoError(t, err)
	require.Contains(t, coll.docs, "1234567890123")

	second := identity.FlattenedRecord{FullName: "Jane Do", IDNumber: "1234567890123", Phone: "0812345678", Confidence: 0.5}
	res, err := store.Save(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, []string{"full_name"}, res.Skipped)
	assert.Equal(t, []string{"phone"}, res.Updated)
	stored := coll.docs["1234567890123"]
	assert.Equal(t, "Jane Doe", stored.FullName)
	assert.Equal(t, "0812345678", stored.Phone)
	assert.Equal(t, 2, coll.upserts)
}

func TestRecordStoreSkipsUnchanged(t *testing.T) {
	coll := &fakeRecordCollection{docs: map[string]*StoredRecord{}}
	store := newRecordStore(coll, nil)
	rec := identity.FlattenedRecord{FullName: "A", PassportNumber: "P1", Confidence: 0.9}

	_, err := store.Save(context.Background(), rec)
	require.NoError(t, err)
	res, err := store.Save(context.Background(), rec)
	require.NoError(t, err)

	assert.False(t, res.Changed())
	assert.Equal(t, 1, coll.upserts)
}

func TestRecordStoreRequiresDocumentNumber(t *testing.T) {
	store := newRecordStore(&fakeRecordCollection{docs: map[string]*StoredRecord{}}, nil)

	_, err := store.Save(context.Background(), identity.FlattenedRecord{FullName: "A"})

	assert.ErrorIs(t, err, ErrNoDocumentNumber)
}

func TestSuffixHidesNumber(t *testing.T) {
	assert.Equal(t, "****0123", suffix("1234567890123"))
	assert.Equal(t, "****", suffix("12"))
}

func TestImageStoreObjectNameAndURL(t *testing.T) {
	src := processor.NewSourceImage([]byte("img"), "Card.JPG", "")
	name := ObjectName(src)
	assert.Equal(t, "identity/"+src.Fingerprint[:2]+"/"+src.Fingerprint+".jpg", name)

	store, err := NewImageStore(configs.MinioConfig{Endpoint: "minio.example.com", Bucket: "ids", UseSSL: true})
	require.NoError(t, err)
	assert.Equal(t, "https://minio.example.com/ids/"+name, store.PublicURL(name))
}

func TestStoredRecordTimestamps(t *testing.T) {
	coll := &fakeRecordCollection{docs: map[string]*StoredRecord{}}
	store := newRecordStore(coll, nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	_, err := store.Save(context.Background(), identity.FlattenedRecord{FullName: "A", IDNumber: "N1"})
	require.NoError(t, err)

	assert.Equal(t, fixed, coll.docs["N1"].CreatedAt)
	assert.Equal(t, fixed, coll.docs["N1"].UpdatedAt)
}
