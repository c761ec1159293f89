package store

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locallum/blockchain-subscription-service/internal/domain"
)

func TestFileRepositoryMissingFileIsEmpty(t *testing.T) {
	repo := NewFileRepository(afero.NewMemMapFs(), "/data/subscriptions.json")

	records, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestFileRepositoryRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	repo := NewFileRepository(fs, "/data/subscriptions.json")
	ctx := context.Background()

	want := []domain.Subscription{
		{ID: 0, User: "0xa", Provider: "0xb", Amount: "1000", StartTime: 1000, Duration: 30, IsActive: true},
		{ID: 1, User: "0xa", Provider: "0xb", Amount: "1000", StartTime: 1031, Duration: 30, IsClaimed: true, IsCancelled: true},
	}
	require.NoError(t, repo.Save(ctx, want))

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// only the ledger itself remains; the temp file was renamed away
	entries, err := afero.ReadDir(fs, "/data")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "subscriptions.json", entries[0].Name())
}

func TestFileRepositoryReadsOriginalFormat(t *testing.T) {
	fs := afero.NewMemMapFs()
	raw := `[
  {
    "id": 0,
    "user": "0xabc",
    "provider": "0xdef",
    "amount": "1000",
    "startTime": 1000,
    "duration": 30,
    "isActive": true,
    "isClaimed": false
  }
]`
	require.NoError(t, afero.WriteFile(fs, "/subscriptions.json", []byte(raw), 0o644))

	records, err := NewFileRepository(fs, "/subscriptions.json").Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].IsCancelled)
	assert.Equal(t, int64(30), records[0].Duration)
}

func TestFileRepositoryCorruptFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/subscriptions.json", []byte("{not json"), 0o644))

	_, err := NewFileRepository(fs, "/subscriptions.json").Load(context.Background())
	require.Error(t, err)
}
