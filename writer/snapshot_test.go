package writer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "coinpulse/config"
	"coinpulse/models"
	"coinpulse/processor"
)

func newTestWriter(t *testing.T, store DocumentStore, docID string) (*SnapshotWriter, *processor.Aggregator) {
	t.Helper()
	cfg := appconfig.Default()
	cfg.Persistence.DocumentID = docID
	cfg.Persistence.Interval = 10 * time.Millisecond
	agg := processor.NewAggregator(&cfg, nil)
	w := NewSnapshotWriter(&cfg, store, agg, nil)
	w.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return w, agg
}

func TestSaveCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store := NewFileStore(fs, "data", "prices.json")
	w, agg := newTestWriter(t, store, "")

	require.True(t, agg.Ingest("BTC_USDT", 100, 1_700_000_000_000))
	require.NoError(t, w.Save(ctx))

	id := w.Status().DocumentID
	require.NotEmpty(t, id)

	doc, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(doc.Content), "\n  \"last_updated\""), "document should be indented with two spaces")

	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(doc.Content, &snap))
	assert.Equal(t, "2024-01-02T03:04:05.000Z", snap.LastUpdated)
	assert.Equal(t, 100.0, snap.Prices["BTC_USDT"].Price)

	require.True(t, agg.Ingest("BTC_USDT", 110, 1_700_000_060_000))
	require.NoError(t, w.Save(ctx))
	assert.Equal(t, id, w.Status().DocumentID, "second save should update the same document")

	doc, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(doc.Content, &snap))
	assert.Equal(t, 110.0, snap.Prices["BTC_USDT"].Price)
}

func TestLoadRestoresAggregator(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(afero.NewMemMapFs(), "data", "prices.json")

	src, srcAgg := newTestWriter(t, store, "")
	srcAgg.Ingest("ETH_USDT", 2000, 1_700_000_000_000)
	srcAgg.Ingest("ETH_USDT", 2010, 1_700_000_060_000)
	require.NoError(t, src.Save(ctx))
	id := src.Status().DocumentID

	dst, dstAgg := newTestWriter(t, store, id)
	assert.True(t, dst.Load(ctx))
	assert.Equal(t, srcAgg.PriceData("ETH_USDT"), dstAgg.PriceData("ETH_USDT"))

	st := dst.Status()
	assert.True(t, st.Active)
	assert.True(t, st.HasData)
	assert.Equal(t, 1, st.TotalCoins)
	assert.Equal(t, "2024-01-02T03:04:05.000Z", st.LastUpdated)
}

func TestLoadFailuresStartEmpty(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store := NewFileStore(fs, "data", "prices.json")

	w, agg := newTestWriter(t, store, "missing")
	assert.False(t, w.Load(ctx))
	assert.Equal(t, 0, agg.Len())
	assert.NotEmpty(t, w.Status().LastUpdated)

	require.NoError(t, store.Update(ctx, "broken", []byte("{not json")))
	w, agg = newTestWriter(t, store, "broken")
	assert.False(t, w.Load(ctx))
	assert.Equal(t, 0, agg.Len())
	assert.False(t, w.Status().HasData)
}

func TestLoadWithoutDocumentID(t *testing.T) {
	w, _ := newTestWriter(t, NewFileStore(afero.NewMemMapFs(), "data", "prices.json"), "")
	assert.False(t, w.Load(context.Background()))
}

type failingStore struct {
	creates int
}

func (f *failingStore) Get(context.Context, string) (*Document, error) { return nil, errors.New("down") }
func (f *failingStore) Update(context.Context, string, []byte) error   { return errors.New("down") }
func (f *failingStore) Create(context.Context, []byte) (string, error) {
	f.creates++
	return "", errors.New("down")
}
func (f *failingStore) Backend() string { return "failing" }

func TestSaveFailureIsReturnedAndScheduleSurvives(t *testing.T) {
	store := &failingStore{}
	w, agg := newTestWriter(t, store, "")
	agg.Ingest("BTC_USDT", 1, 1)

	assert.Error(t, w.Save(context.Background()))
	assert.Empty(t, w.Status().DocumentID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	time.Sleep(60 * time.Millisecond)
	assert.Error(t, w.Stop(context.Background()))
	assert.GreaterOrEqual(t, store.creates, 3, "scheduled saves should keep running after failures")
}

type vanishingStore struct {
	*FileStore
}

func (v vanishingStore) Update(ctx context.Context, id string, content []byte) error {
	if id == "gone" {
		return ErrNotFound
	}
	return v.FileStore.Update(ctx, id, content)
}

func TestSaveRecreatesVanishedDocument(t *testing.T) {
	store := vanishingStore{NewFileStore(afero.NewMemMapFs(), "data", "prices.json")}
	w, agg := newTestWriter(t, store, "gone")
	agg.Ingest("BTC_USDT", 1, 1)

	require.NoError(t, w.Save(context.Background()))
	id := w.Status().DocumentID
	assert.NotEqual(t, "gone", id)
	assert.NotEmpty(t, id)
}

func TestStopPerformsFinalSave(t *testing.T) {
	store := NewFileStore(afero.NewMemMapFs(), "data", "prices.json")
	w, agg := newTestWriter(t, store, "")
	w.config.Persistence.Interval = time.Hour

	require.NoError(t, w.Start(context.Background()))
	agg.Ingest("SOL_USDT", 50, 1_700_000_000_000)
	require.NoError(t, w.Stop(context.Background()))

	doc, err := store.Get(context.Background(), w.Status().DocumentID)
	require.NoError(t, err)
	assert.Contains(t, string(doc.Content), "SOL_USDT")
}

func TestRestartRestoresWithoutConfiguredDocumentID(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	first, agg := newTestWriter(t, NewFileStore(fs, "data", "prices.json"), "")
	agg.Ingest("BTC_USDT", 100, 1_700_000_000_000)
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.Stop(ctx))
	assert.Equal(t, 1, first.Status().TotalCoins)

	second, restored := newTestWriter(t, NewFileStore(fs, "data", "prices.json"), "")
	require.True(t, second.Load(ctx))
	assert.Equal(t, 1, second.Status().TotalCoins)
	assert.Equal(t, 100.0, restored.PriceData("BTC_USDT").Price)

	require.NoError(t, second.Save(ctx))
	dirs, err := afero.ReadDir(fs, "data")
	require.NoError(t, err)
	assert.Len(t, dirs, 1, "restarts should reuse one document")
}

func TestQuerySurface(t *testing.T) {
	w, _ := newTestWriter(t, nil, "")
	assert.True(t, w.AddPrice("BTC_USDT", 10))
	assert.False(t, w.AddPrice("", 10))

	assert.Equal(t, []string{"1h", "4h", "24h", "7d", "30d", "180d"}, w.Timeframes())
	view := w.PriceView("BTC_USDT", "1h")
	require.NotNil(t, view)
	assert.Equal(t, 10.0, view.CurrentPrice)
	assert.Nil(t, w.PriceView("DOGE_USDT", "1h"))
	assert.NotNil(t, w.PriceData("BTC_USDT"))
	assert.Len(t, w.AllData().Prices, 1)

	st := w.Status()
	assert.False(t, st.Active)
	assert.Error(t, w.Save(context.Background()))
}

func TestArchiveRunsOnSave(t *testing.T) {
	fake := newFakeS3()
	w, agg := newTestWriter(t, NewFileStore(afero.NewMemMapFs(), "data", "prices.json"), "")
	w.archive = newS3Archive(fake, "bucket", "archive")
	agg.Ingest("BTC_USDT", 10, 1_700_000_000_000)

	require.NoError(t, w.Save(context.Background()))
	assert.Len(t, fake.puts, 1)
}
