// Package dhtresume persists a routing table's non-BAD nodes to a
// boltdb file so an engine can seed its bootstrap step from the last run
// instead of only the well-known routers, cutting the time to a populated
// table after a restart. The bucket-open/update pattern (CreateBucketIfNotExists
// under db.Update, ForEach under db.View) follows the teacher's
// session.New/session.Close handling of its own resume database; the
// per-run use here is new (the teacher persists per-torrent resume state,
// this persists DHT routing-table nodes) but the storage idiom is carried
// over unchanged.
package dhtresume

import (
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"

	"github.com/kadcrawl/kadcrawl/internal/identifier"
	"github.com/kadcrawl/kadcrawl/internal/kademlia"
)

var nodesBucket = []byte("dht-nodes")

// Store wraps a boltdb handle dedicated to routing-table snapshots.
type Store struct {
	db *bolt.DB
}

// record is the on-disk representation of a single persisted node; it
// keeps LastSeen so a long-dead snapshot can be discarded by the caller
// rather than fed back in as if freshly observed.
type record struct {
	ID       string    `json:"id"`
	Address  string    `json:"address"`
	Port     uint16    `json:"port"`
	LastSeen time.Time `json:"last_seen"`
}

// Open creates (if necessary) the bolt database at path and ensures the
// node bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0640, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err2 := tx.CreateBucketIfNotExists(nodesBucket)
		return err2
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying boltdb handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the persisted snapshot with every node in the routing
// table that is not BAD (bad nodes are not worth seeding a future
// bootstrap with).
func (s *Store) Save(rt *kademlia.RoutingTable) error {
	nodes := rt.AllNodes()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(nodesBucket)
		if err := b.ForEach(func(k, _ []byte) error { return b.Delete(k) }); err != nil {
			return err
		}
		for _, n := range nodes {
			if n.Status == kademlia.Bad {
				continue
			}
			rec := record{ID: n.ID.String(), Address: n.Endpoint.Address, Port: n.Endpoint.Port, LastSeen: n.LastSeen}
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(rec.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Endpoint is a minimal (id, address) pair handed back for bootstrap
// seeding, deliberately not the full kademlia.Node so callers can't
// mistake a stale snapshot for a freshly-verified contact.
type Endpoint struct {
	ID       identifier.ID
	Endpoint identifier.Endpoint
	LastSeen time.Time
}

// Load returns every persisted node newer than maxAge (0 means no age
// filtering).
func (s *Store) Load(maxAge time.Duration) ([]Endpoint, error) {
	var out []Endpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(nodesBucket)
		return b.ForEach(func(_, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if maxAge > 0 && time.Since(rec.LastSeen) > maxAge {
				return nil
			}
			id, err := identifier.ParseHex(rec.ID)
			if err != nil {
				return nil
			}
			out = append(out, Endpoint{
				ID:       id,
				Endpoint: identifier.Endpoint{Address: rec.Address, Port: rec.Port},
				LastSeen: rec.LastSeen,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
