package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ammarb/internal/domain"
	"github.com/alanyoungcy/ammarb/internal/store/memory"
)

type fakeBucket struct {
	objects   map[string][]byte
	multipart []string
	putErr    error
}

func newFakeBucket() *fakeBucket { return &fakeBucket{objects: map[string][]byte{}} }

func (f *fakeBucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = b
	return nil
}

func (f *fakeBucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	f.multipart = append(f.multipart, path)
	return f.Put(ctx, path, data, jsonlContentType)
}

func (f *fakeBucket) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBucket) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (f *fakeBucket) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func seed(t *testing.T, store *memory.SettlementStore, at ...time.Time) {
	t.Helper()
	eos := domain.Symbol{Code: "EOS", Precision: 4}
	for i, ts := range at {
		require.NoError(t, store.Create(context.Background(), domain.Settlement{
			ID:        string(rune('a' + i)),
			Profit:    domain.Asset{Amount: int64(i + 1), Symbol: eos},
			Status:    domain.SettlementCompleted,
			StartedAt: ts,
		}))
	}
}

func TestArchiveSettlements(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	store := memory.NewSettlementStore()
	seed(t, store, cutoff.Add(-48*time.Hour), cutoff.Add(-time.Hour), cutoff.Add(time.Hour))
	bucket := newFakeBucket()
	audit := memory.NewAuditStore()

	a := NewArchiver(ArchiverConfig{Writer: bucket, Reader: bucket, Settlements: store, Audit: audit, Logger: discard()})
	n, err := a.ArchiveSettlements(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	data, ok := bucket.objects["archive/settlements/2026-03/20260315T000000Z.jsonl"]
	require.True(t, ok)
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var s domain.Settlement
		require.NoError(t, json.Unmarshal(sc.Bytes(), &s))
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)

	left, err := store.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "c", left[0].ID)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.settlements", entries[0].Event)

	n, err = a.ArchiveSettlements(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing left to archive")
}

func TestArchiveSettlements_DoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	bucket := newFakeBucket()
	bucket.objects["archive/settlements/2026-03/20260315T000000Z.jsonl"] = []byte("{}\n")
	store := memory.NewSettlementStore()
	seed(t, store, cutoff.Add(-time.Hour))

	_, err := NewArchiver(ArchiverConfig{Writer: bucket, Reader: bucket, Settlements: store}).ArchiveSettlements(ctx, cutoff)
	require.NoError(t, err)
	assert.Contains(t, bucket.objects, "archive/settlements/2026-03/20260315T000000Z-1.jsonl")
}

func TestArchiveSettlements_UploadFailureKeepsRows(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Now().UTC()
	store := memory.NewSettlementStore()
	seed(t, store, cutoff.Add(-time.Hour))
	bucket := newFakeBucket()
	bucket.putErr = errors.New("bucket gone")

	_, err := NewArchiver(ArchiverConfig{Writer: bucket, Settlements: store}).ArchiveSettlements(ctx, cutoff)
	require.Error(t, err)
	left, err := store.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestArchiveSettlements_LargeBatchUsesMultipart(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Now().UTC()
	store := memory.NewSettlementStore()
	seed(t, store, cutoff.Add(-2*time.Hour), cutoff.Add(-time.Hour))
	bucket := newFakeBucket()

	a := NewArchiver(ArchiverConfig{Writer: bucket, Settlements: store, MultipartThreshold: 1})
	_, err := a.ArchiveSettlements(ctx, cutoff)
	require.NoError(t, err)
	assert.Len(t, bucket.multipart, 1)
}

func TestEndpointAndPrefix(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))

	c := &Client{prefix: normalisePrefix("/ammarb/")}
	assert.Equal(t, "ammarb/archive/x.jsonl", c.key("/archive/x.jsonl"))
	assert.Equal(t, "", normalisePrefix(""))
}
