package storage

import (
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/pkg/errors"
)

// Store wraps a *sqlx.DB behind the narrow surface the DHT and BitTorrent
// engines write through, mirroring the teacher's store/mysql.TorrentStore
// shape: one struct holding the handle, a constructor that opens and
// migrates, and grouped CRUD-ish methods rather than raw SQL leaking to
// callers. Writes are expected to come from a single owning goroutine per
// the rest of the module's single-writer idiom; reads may run from any
// goroutine since sqlite's WAL mode (enabled in Open) supports concurrent
// readers alongside one writer.
type Store struct {
	db *sqlx.DB
}

// Open creates (if necessary) and migrates the sqlite database at path,
// enabling WAL journaling and foreign keys.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(ErrIOError, err.Error())
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(ErrIOError, err.Error())
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(ErrIOError, err.Error())
	}

	if err := NewMigrationManager(migrations).Apply(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// StoreNode upserts a node observation, incrementing ping/query/response
// counters rather than overwriting them.
func (s *Store) StoreNode(rec NodeRecord) error {
	_, err := s.db.NamedExec(`
INSERT INTO nodes (id, address, port, first_seen, last_seen, ping_count, query_count, response_count, is_responsive, last_rtt_ms)
VALUES (:id, :address, :port, :first_seen, :last_seen, :ping_count, :query_count, :response_count, :is_responsive, :last_rtt_ms)
ON CONFLICT(id) DO UPDATE SET
	address = excluded.address,
	port = excluded.port,
	last_seen = excluded.last_seen,
	ping_count = nodes.ping_count + excluded.ping_count,
	query_count = nodes.query_count + excluded.query_count,
	response_count = nodes.response_count + excluded.response_count,
	is_responsive = excluded.is_responsive,
	last_rtt_ms = excluded.last_rtt_ms
`, rec)
	if err != nil {
		return classifyExecErr(err)
	}
	return nil
}

// GetNode fetches a single node by id.
func (s *Store) GetNode(id string) (*NodeRecord, error) {
	var rec NodeRecord
	if err := s.db.Get(&rec, "SELECT * FROM nodes WHERE id = ?", id); err != nil {
		return nil, classifyExecErr(err)
	}
	return &rec, nil
}

// GetNodes returns nodes matching opt, ordered by last_seen when opt names
// no order column (ascending unless opt.OrderDesc is set).
func (s *Store) GetNodes(opt QueryOptions) ([]NodeRecord, error) {
	w := buildNodeFilter(opt)
	query := "SELECT * FROM nodes " + w.sql() + " " + orderAndLimit(opt, OrderByLastSeen)
	var recs []NodeRecord
	if err := s.db.Select(&recs, query, w.args...); err != nil {
		return nil, classifyExecErr(err)
	}
	return recs, nil
}

// CountNodes returns the number of nodes matching opt (ignoring Limit/Offset/OrderBy).
func (s *Store) CountNodes(opt QueryOptions) (int64, error) {
	w := buildNodeFilter(opt)
	var count int64
	query := "SELECT COUNT(*) FROM nodes " + w.sql()
	if err := s.db.Get(&count, query, w.args...); err != nil {
		return 0, classifyExecErr(err)
	}
	return count, nil
}

// StoreInfoHash upserts an infohash observation, incrementing its
// announce/peer counters.
func (s *Store) StoreInfoHash(rec InfoHashRecord) error {
	_, err := s.db.NamedExec(`
INSERT INTO infohashes (infohash, first_seen, last_seen, announce_count, peer_count, has_metadata)
VALUES (:infohash, :first_seen, :last_seen, :announce_count, :peer_count, :has_metadata)
ON CONFLICT(infohash) DO UPDATE SET
	last_seen = excluded.last_seen,
	announce_count = infohashes.announce_count + excluded.announce_count,
	peer_count = infohashes.peer_count + excluded.peer_count,
	has_metadata = infohashes.has_metadata OR excluded.has_metadata
`, rec)
	if err != nil {
		return classifyExecErr(err)
	}
	return nil
}

// IncrementInfoHashAnnounceCount bumps an existing infohash's announce
// counter and last_seen timestamp by one.
func (s *Store) IncrementInfoHashAnnounceCount(infohash string, at time.Time) error {
	_, err := s.db.Exec(
		"UPDATE infohashes SET announce_count = announce_count + 1, last_seen = ? WHERE infohash = ?",
		at, infohash,
	)
	if err != nil {
		return classifyExecErr(err)
	}
	return nil
}

// IncrementInfoHashPeerCount bumps an existing infohash's peer counter and
// last_seen timestamp by one.
func (s *Store) IncrementInfoHashPeerCount(infohash string, at time.Time) error {
	_, err := s.db.Exec(
		"UPDATE infohashes SET peer_count = peer_count + 1, last_seen = ? WHERE infohash = ?",
		at, infohash,
	)
	if err != nil {
		return classifyExecErr(err)
	}
	return nil
}

// GetInfoHash fetches a single infohash record.
func (s *Store) GetInfoHash(infohash string) (*InfoHashRecord, error) {
	var rec InfoHashRecord
	if err := s.db.Get(&rec, "SELECT * FROM infohashes WHERE infohash = ?", infohash); err != nil {
		return nil, classifyExecErr(err)
	}
	return &rec, nil
}

// GetInfoHashes returns infohashes matching opt.
func (s *Store) GetInfoHashes(opt QueryOptions) ([]InfoHashRecord, error) {
	w := buildInfoHashFilter(opt)
	query := "SELECT * FROM infohashes " + w.sql() + " " + orderAndLimit(opt, OrderByLastSeen)
	var recs []InfoHashRecord
	if err := s.db.Select(&recs, query, w.args...); err != nil {
		return nil, classifyExecErr(err)
	}
	return recs, nil
}

// CountInfoHashes returns the number of infohashes matching opt.
func (s *Store) CountInfoHashes(opt QueryOptions) (int64, error) {
	w := buildInfoHashFilter(opt)
	var count int64
	query := "SELECT COUNT(*) FROM infohashes " + w.sql()
	if err := s.db.Get(&count, query, w.args...); err != nil {
		return 0, classifyExecErr(err)
	}
	return count, nil
}

// StoreMetadata writes a metadata record together with its file list and
// marks the owning infohash as having metadata, all within one
// transaction.
func (s *Store) StoreMetadata(rec MetadataRecord, files []FileRecord) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return errors.Wrap(ErrIOError, err.Error())
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.NamedExec(`
INSERT INTO metadata (infohash, name, total_size, piece_count, file_count, comment, created_by, creation_date, raw_info, download_time)
VALUES (:infohash, :name, :total_size, :piece_count, :file_count, :comment, :created_by, :creation_date, :raw_info, :download_time)
ON CONFLICT(infohash) DO UPDATE SET
	name = excluded.name,
	total_size = excluded.total_size,
	piece_count = excluded.piece_count,
	file_count = excluded.file_count,
	comment = excluded.comment,
	created_by = excluded.created_by,
	creation_date = excluded.creation_date,
	raw_info = excluded.raw_info,
	download_time = excluded.download_time
`, rec); err != nil {
		return classifyExecErr(err)
	}

	if _, err := tx.Exec("DELETE FROM files WHERE infohash = ?", rec.InfoHash); err != nil {
		return classifyExecErr(err)
	}
	for _, f := range files {
		if _, err := tx.NamedExec(
			"INSERT INTO files (infohash, path, size) VALUES (:infohash, :path, :size)", f,
		); err != nil {
			return classifyExecErr(err)
		}
	}

	if _, err := tx.Exec("UPDATE infohashes SET has_metadata = 1 WHERE infohash = ?", rec.InfoHash); err != nil {
		return classifyExecErr(err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(ErrTransactionConflict, err.Error())
	}
	return nil
}

// GetMetadata fetches a single metadata record.
func (s *Store) GetMetadata(infohash string) (*MetadataRecord, error) {
	var rec MetadataRecord
	if err := s.db.Get(&rec, "SELECT * FROM metadata WHERE infohash = ?", infohash); err != nil {
		return nil, classifyExecErr(err)
	}
	return &rec, nil
}

// GetMetadatas returns metadata records matching opt.
func (s *Store) GetMetadatas(opt QueryOptions) ([]MetadataRecord, error) {
	w := buildMetadataFilter(opt)
	query := "SELECT * FROM metadata " + w.sql() + " " + orderAndLimit(opt, OrderByDownloadTime)
	var recs []MetadataRecord
	if err := s.db.Select(&recs, query, w.args...); err != nil {
		return nil, classifyExecErr(err)
	}
	return recs, nil
}

// CountMetadatas returns the number of metadata records matching opt.
func (s *Store) CountMetadatas(opt QueryOptions) (int64, error) {
	w := buildMetadataFilter(opt)
	var count int64
	query := "SELECT COUNT(*) FROM metadata " + w.sql()
	if err := s.db.Get(&count, query, w.args...); err != nil {
		return 0, classifyExecErr(err)
	}
	return count, nil
}

// GetFiles returns the file list recorded for an infohash.
func (s *Store) GetFiles(infohash string) ([]FileRecord, error) {
	var recs []FileRecord
	if err := s.db.Select(&recs, "SELECT * FROM files WHERE infohash = ? ORDER BY path", infohash); err != nil {
		return nil, classifyExecErr(err)
	}
	return recs, nil
}

// StorePeer upserts a peer observation for an infohash.
func (s *Store) StorePeer(rec PeerRecord) error {
	_, err := s.db.NamedExec(`
INSERT INTO peers (infohash, address, port, peer_id, supports_dht, supports_ext, supports_fast, first_seen, last_seen)
VALUES (:infohash, :address, :port, :peer_id, :supports_dht, :supports_ext, :supports_fast, :first_seen, :last_seen)
ON CONFLICT(infohash, address, port) DO UPDATE SET
	peer_id = excluded.peer_id,
	supports_dht = excluded.supports_dht,
	supports_ext = excluded.supports_ext,
	supports_fast = excluded.supports_fast,
	last_seen = excluded.last_seen
`, rec)
	if err != nil {
		return classifyExecErr(err)
	}
	return nil
}

// GetPeers returns the peers recorded for an infohash.
func (s *Store) GetPeers(infohash string) ([]PeerRecord, error) {
	var recs []PeerRecord
	if err := s.db.Select(&recs, "SELECT * FROM peers WHERE infohash = ? ORDER BY last_seen DESC", infohash); err != nil {
		return nil, classifyExecErr(err)
	}
	return recs, nil
}

// IncrementPeerFailureCount upserts a connection failure against a peer:
// if the peer row already exists its failure_count is incremented and
// last_seen refreshed; if it doesn't (the failure raced ahead of the
// discovery write that would have created it) a bare row is created with
// a failure_count of one.
func (s *Store) IncrementPeerFailureCount(infohash, address string, port int) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
INSERT INTO peers (infohash, address, port, first_seen, last_seen, failure_count)
VALUES (?, ?, ?, ?, ?, 1)
ON CONFLICT(infohash, address, port) DO UPDATE SET
	last_seen = excluded.last_seen,
	failure_count = peers.failure_count + 1
`, infohash, address, port, now, now)
	if err != nil {
		return classifyExecErr(err)
	}
	return nil
}

// StoreTracker upserts a tracker URL observation for an infohash.
func (s *Store) StoreTracker(rec TrackerRecord) error {
	_, err := s.db.NamedExec(`
INSERT INTO trackers (infohash, url, first_seen, last_seen, announce_count, scrape_count)
VALUES (:infohash, :url, :first_seen, :last_seen, :announce_count, :scrape_count)
ON CONFLICT(infohash, url) DO UPDATE SET
	last_seen = excluded.last_seen,
	announce_count = trackers.announce_count + excluded.announce_count,
	scrape_count = trackers.scrape_count + excluded.scrape_count
`, rec)
	if err != nil {
		return classifyExecErr(err)
	}
	return nil
}

// IncrementTrackerAnnounceCount bumps an existing tracker's announce
// counter and last_seen timestamp by one.
func (s *Store) IncrementTrackerAnnounceCount(infohash, url string, at time.Time) error {
	_, err := s.db.Exec(
		"UPDATE trackers SET announce_count = announce_count + 1, last_seen = ? WHERE infohash = ? AND url = ?",
		at, infohash, url,
	)
	if err != nil {
		return classifyExecErr(err)
	}
	return nil
}

// IncrementTrackerScrapeCount bumps an existing tracker's scrape counter
// and last_seen timestamp by one.
func (s *Store) IncrementTrackerScrapeCount(infohash, url string, at time.Time) error {
	_, err := s.db.Exec(
		"UPDATE trackers SET scrape_count = scrape_count + 1, last_seen = ? WHERE infohash = ? AND url = ?",
		at, infohash, url,
	)
	if err != nil {
		return classifyExecErr(err)
	}
	return nil
}

// GetTrackers returns the trackers recorded for an infohash.
func (s *Store) GetTrackers(infohash string) ([]TrackerRecord, error) {
	var recs []TrackerRecord
	if err := s.db.Select(&recs, "SELECT * FROM trackers WHERE infohash = ? ORDER BY last_seen DESC", infohash); err != nil {
		return nil, classifyExecErr(err)
	}
	return recs, nil
}
