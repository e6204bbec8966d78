package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kadcrawl.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenAppliesMigrations(t *testing.T) {
	store := openTestStore(t)
	var version int
	require.NoError(t, store.db.Get(&version, "SELECT version FROM migrations ORDER BY version DESC LIMIT 1"))
	assert.Equal(t, 1, version)
}

func TestStoreNodeUpsertAccumulatesCounters(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	rec := NodeRecord{
		ID: "abc", Address: "1.2.3.4", Port: 6881,
		FirstSeen: now, LastSeen: now,
		PingCount: 1, QueryCount: 0, ResponseCount: 1,
		IsResponsive: true, LastRTTMs: 12.5,
	}
	require.NoError(t, store.StoreNode(rec))

	rec.PingCount = 1
	rec.ResponseCount = 1
	rec.LastSeen = now.Add(time.Minute)
	require.NoError(t, store.StoreNode(rec))

	got, err := store.GetNode("abc")
	require.NoError(t, err)
	assert.Equal(t, 2, got.PingCount)
	assert.Equal(t, 2, got.ResponseCount)
	assert.True(t, got.LastSeen.After(now))
}

func TestGetNodesFiltersByResponsiveness(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, store.StoreNode(NodeRecord{ID: "good", Address: "1.1.1.1", Port: 1, FirstSeen: now, LastSeen: now, IsResponsive: true}))
	require.NoError(t, store.StoreNode(NodeRecord{ID: "bad", Address: "2.2.2.2", Port: 2, FirstSeen: now, LastSeen: now, IsResponsive: false}))

	responsive := true
	recs, err := store.GetNodes(QueryOptions{IsResponsive: &responsive})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "good", recs[0].ID)
}

func TestStoreMetadataWritesFilesAndMarksHasMetadata(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, store.StoreInfoHash(InfoHashRecord{InfoHash: "ih1", FirstSeen: now, LastSeen: now}))

	rec := MetadataRecord{
		InfoHash: "ih1", Name: "some.release", TotalSize: 2048,
		PieceCount: 2, FileCount: 2, RawInfo: []byte("d4:infoe"), DownloadTime: now,
	}
	files := []FileRecord{
		{InfoHash: "ih1", Path: "a.txt", Size: 1024},
		{InfoHash: "ih1", Path: "b.txt", Size: 1024},
	}
	require.NoError(t, store.StoreMetadata(rec, files))

	got, err := store.GetMetadata("ih1")
	require.NoError(t, err)
	assert.Equal(t, "some.release", got.Name)

	gotFiles, err := store.GetFiles("ih1")
	require.NoError(t, err)
	assert.Len(t, gotFiles, 2)

	ih, err := store.GetInfoHash("ih1")
	require.NoError(t, err)
	assert.True(t, ih.HasMetadata)
}

func TestStorePeerUpsertUpdatesFlags(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, store.StoreInfoHash(InfoHashRecord{InfoHash: "ih2", FirstSeen: now, LastSeen: now}))

	peer := PeerRecord{InfoHash: "ih2", Address: "3.3.3.3", Port: 6881, FirstSeen: now, LastSeen: now}
	require.NoError(t, store.StorePeer(peer))

	peer.SupportsDHT = true
	peer.LastSeen = now.Add(time.Minute)
	require.NoError(t, store.StorePeer(peer))

	peers, err := store.GetPeers("ih2")
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.True(t, peers[0].SupportsDHT)
}

func TestIncrementPeerFailureCountCreatesThenIncrements(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, store.StoreInfoHash(InfoHashRecord{InfoHash: "ih3", FirstSeen: now, LastSeen: now}))

	require.NoError(t, store.IncrementPeerFailureCount("ih3", "4.4.4.4", 6881))
	require.NoError(t, store.IncrementPeerFailureCount("ih3", "4.4.4.4", 6881))

	peers, err := store.GetPeers("ih3")
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, 2, peers[0].FailureCount)
}

func TestSettingsRoundtrip(t *testing.T) {
	store := openTestStore(t)

	_, ok, err := store.GetSetting("web.port")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetSetting("web.port", "8080"))
	value, ok, err := store.GetSetting("web.port")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "8080", value)

	require.NoError(t, store.DeleteSetting("web.port"))
	_, ok, err = store.GetSetting("web.port")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAsyncStoreDeliversResult(t *testing.T) {
	store := openTestStore(t)
	async := NewAsyncStore(store, 16)
	defer async.Close()

	now := time.Now().UTC()
	fut := async.StoreNodeAsync(NodeRecord{ID: "n1", Address: "1.1.1.1", Port: 1, FirstSeen: now, LastSeen: now})
	require.NoError(t, fut.Wait(context.Background()))

	got, err := store.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, "n1", got.ID)
}
