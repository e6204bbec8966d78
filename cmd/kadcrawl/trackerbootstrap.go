package main

import (
	"time"

	"github.com/kadcrawl/kadcrawl/internal/controller"
	"github.com/kadcrawl/kadcrawl/internal/eventbus"
	"github.com/kadcrawl/kadcrawl/internal/identifier"
	"github.com/kadcrawl/kadcrawl/internal/storage"
	"github.com/kadcrawl/kadcrawl/internal/tracker"
)

// defaultTrackers is a small set of well-known public UDP trackers,
// queried only to seed peer discovery for infohashes the DHT engine has
// already surfaced; the crawler never announces itself as a seeder or
// leecher of real data.
var defaultTrackers = []string{
	"tracker.opentrackr.org:1337",
	"open.stealth.si:80",
	"tracker.torrent.eu.org:451",
}

// runTrackerBootstrap periodically announces a handful of recently seen
// infohashes to defaultTrackers and feeds returned peers into the
// controller's event bus through the same PeerFound path DHT-sourced
// peers use, the external-collaborator contract the crawling core
// expects bootstrap-only tracker clients to honor.
func runTrackerBootstrap(ctrl *controller.Controller, peerID [20]byte, interval time.Duration, stop <-chan struct{}) {
	client := tracker.NewClient(10 * time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			announceKnownInfohashes(ctrl, client, peerID)
		}
	}
}

func announceKnownInfohashes(ctrl *controller.Controller, client *tracker.Client, peerID [20]byte) {
	store := ctrl.Store()
	bus := ctrl.Bus()
	if store == nil || bus == nil {
		return
	}

	recs, err := store.GetInfoHashes(storage.QueryOptions{
		Limit:     5,
		OrderBy:   storage.OrderByLastSeen,
		OrderDesc: true,
	})
	if err != nil || len(recs) == 0 {
		return
	}

	for _, rec := range recs {
		infoHash, err := identifier.ParseHex(rec.InfoHash)
		if err != nil {
			continue
		}
		for _, addr := range defaultTrackers {
			result, err := client.Announce(addr, infoHash, peerID, 0)
			if err != nil {
				log.Debugln("tracker announce failed:", addr, err)
				continue
			}
			now := time.Now().UTC()
			_ = store.StoreTracker(storage.TrackerRecord{
				InfoHash: rec.InfoHash, URL: addr, FirstSeen: now, LastSeen: now, AnnounceCount: 1,
			})
			for _, ep := range result.Peers {
				bus.Publish(eventbus.Event{
					Kind: eventbus.PeerFound,
					Peer: eventbus.PeerFoundPayload{InfoHash: infoHash, Endpoint: ep},
				})
			}
		}
	}
}
