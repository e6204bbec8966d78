package storage

import "time"

// NodeRecord mirrors the nodes table; upserted on every observation.
type NodeRecord struct {
	ID            string    `db:"id"`
	Address       string    `db:"address"`
	Port          int       `db:"port"`
	FirstSeen     time.Time `db:"first_seen"`
	LastSeen      time.Time `db:"last_seen"`
	PingCount     int       `db:"ping_count"`
	QueryCount    int       `db:"query_count"`
	ResponseCount int       `db:"response_count"`
	IsResponsive  bool      `db:"is_responsive"`
	LastRTTMs     float64   `db:"last_rtt_ms"`
}

// InfoHashRecord mirrors the infohashes table; upserted on discovery or
// announce, never deleted.
type InfoHashRecord struct {
	InfoHash      string    `db:"infohash"`
	FirstSeen     time.Time `db:"first_seen"`
	LastSeen      time.Time `db:"last_seen"`
	AnnounceCount int       `db:"announce_count"`
	PeerCount     int       `db:"peer_count"`
	HasMetadata   bool      `db:"has_metadata"`
}

// MetadataRecord mirrors the metadata table; written once per infohash on
// successful download.
type MetadataRecord struct {
	InfoHash     string     `db:"infohash"`
	Name         string     `db:"name"`
	TotalSize    int64      `db:"total_size"`
	PieceCount   int        `db:"piece_count"`
	FileCount    int        `db:"file_count"`
	Comment      string     `db:"comment"`
	CreatedBy    string     `db:"created_by"`
	CreationDate *time.Time `db:"creation_date"`
	RawInfo      []byte     `db:"raw_info"`
	DownloadTime time.Time  `db:"download_time"`
}

// FileRecord mirrors the files table; written as a batch with the
// MetadataRecord.
type FileRecord struct {
	InfoHash string `db:"infohash"`
	Path     string `db:"path"`
	Size     int64  `db:"size"`
}

// TrackerRecord mirrors the trackers table; upserted when a tracker URL is
// observed for an infohash.
type TrackerRecord struct {
	InfoHash      string    `db:"infohash"`
	URL           string    `db:"url"`
	FirstSeen     time.Time `db:"first_seen"`
	LastSeen      time.Time `db:"last_seen"`
	AnnounceCount int       `db:"announce_count"`
	ScrapeCount   int       `db:"scrape_count"`
}

// PeerRecord mirrors the peers table; upserted on peer discovery.
type PeerRecord struct {
	InfoHash     string    `db:"infohash"`
	Address      string    `db:"address"`
	Port         int       `db:"port"`
	PeerID       string    `db:"peer_id"`
	SupportsDHT  bool      `db:"supports_dht"`
	SupportsExt  bool      `db:"supports_ext"`
	SupportsFast bool      `db:"supports_fast"`
	FirstSeen    time.Time `db:"first_seen"`
	LastSeen     time.Time `db:"last_seen"`
	FailureCount int       `db:"failure_count"`
}

// PeerFlags is the bit set of capability flags passed to store_peer.
type PeerFlags struct {
	DHT       bool
	Extension bool
	Fast      bool
}
