package storage

// migrations is the full set the engine applies at startup. Version 1
// defines the schema described in spec §6: nodes, infohashes, metadata,
// files, trackers, peers, with indexes on last_seen/has_metadata/name/
// download_time and FK cascades to infohashes.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: `
CREATE TABLE nodes (
	id               TEXT PRIMARY KEY,
	address          TEXT NOT NULL,
	port             INTEGER NOT NULL,
	first_seen       TIMESTAMP NOT NULL,
	last_seen        TIMESTAMP NOT NULL,
	ping_count       INTEGER NOT NULL DEFAULT 0,
	query_count      INTEGER NOT NULL DEFAULT 0,
	response_count   INTEGER NOT NULL DEFAULT 0,
	is_responsive    BOOLEAN NOT NULL DEFAULT 0,
	last_rtt_ms      REAL NOT NULL DEFAULT 0
);
CREATE INDEX idx_nodes_last_seen ON nodes(last_seen);

CREATE TABLE infohashes (
	infohash         TEXT PRIMARY KEY,
	first_seen       TIMESTAMP NOT NULL,
	last_seen        TIMESTAMP NOT NULL,
	announce_count   INTEGER NOT NULL DEFAULT 0,
	peer_count       INTEGER NOT NULL DEFAULT 0,
	has_metadata     BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX idx_infohashes_last_seen ON infohashes(last_seen);
CREATE INDEX idx_infohashes_has_metadata ON infohashes(has_metadata);

CREATE TABLE metadata (
	infohash         TEXT PRIMARY KEY REFERENCES infohashes(infohash) ON DELETE CASCADE,
	name             TEXT NOT NULL,
	total_size       INTEGER NOT NULL,
	piece_count      INTEGER NOT NULL,
	file_count       INTEGER NOT NULL,
	comment          TEXT NOT NULL DEFAULT '',
	created_by       TEXT NOT NULL DEFAULT '',
	creation_date    TIMESTAMP,
	raw_info         BLOB NOT NULL,
	download_time    TIMESTAMP NOT NULL
);
CREATE INDEX idx_metadata_name ON metadata(name);
CREATE INDEX idx_metadata_download_time ON metadata(download_time);

CREATE TABLE files (
	infohash         TEXT NOT NULL REFERENCES infohashes(infohash) ON DELETE CASCADE,
	path             TEXT NOT NULL,
	size             INTEGER NOT NULL,
	PRIMARY KEY (infohash, path)
);

CREATE TABLE trackers (
	infohash         TEXT NOT NULL REFERENCES infohashes(infohash) ON DELETE CASCADE,
	url              TEXT NOT NULL,
	first_seen       TIMESTAMP NOT NULL,
	last_seen        TIMESTAMP NOT NULL,
	announce_count   INTEGER NOT NULL DEFAULT 0,
	scrape_count     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (infohash, url)
);

CREATE TABLE peers (
	infohash         TEXT NOT NULL REFERENCES infohashes(infohash) ON DELETE CASCADE,
	address          TEXT NOT NULL,
	port             INTEGER NOT NULL,
	peer_id          TEXT NOT NULL DEFAULT '',
	supports_dht     BOOLEAN NOT NULL DEFAULT 0,
	supports_ext     BOOLEAN NOT NULL DEFAULT 0,
	supports_fast    BOOLEAN NOT NULL DEFAULT 0,
	first_seen       TIMESTAMP NOT NULL,
	last_seen        TIMESTAMP NOT NULL,
	failure_count    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (infohash, address, port)
);

CREATE TABLE kv_settings (
	key              TEXT PRIMARY KEY,
	value            TEXT NOT NULL
);
`,
		Down: `
DROP TABLE IF EXISTS kv_settings;
DROP TABLE IF EXISTS peers;
DROP TABLE IF EXISTS trackers;
DROP TABLE IF EXISTS files;
DROP TABLE IF EXISTS metadata;
DROP TABLE IF EXISTS infohashes;
DROP TABLE IF EXISTS nodes;
`,
	},
}
