package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kadcrawl/kadcrawl/internal/controller"
	"github.com/kadcrawl/kadcrawl/internal/storage"
)

const interactiveHelp = `commands:
  help                show this message
  stats               print controller and engine counters
  nodes [limit]        list known DHT nodes (default limit 20)
  node <hex>          show one node by id
  infohashes [limit]   list known infohashes (default limit 20)
  infohash <hex>      show peers and trackers for one infohash
  metadata [limit]      list downloaded metadata records (default limit 20)
  search <query>      find metadata by name substring
  start               begin crawling
  stop                stop crawling and close storage
  exit                leave the command loop`

// runInteractive is the read-eval-print loop the settings table's CLI
// surface names: one command per line, read from stdin until "exit" or
// EOF.
func runInteractive(ctrl *controller.Controller) error {
	fmt.Println("kadcrawl interactive mode. Type 'help' for commands.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("kadcrawl> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "help":
			fmt.Println(interactiveHelp)
		case "stats":
			printStats(ctrl)
		case "nodes":
			printNodes(ctrl, args)
		case "node":
			printNode(ctrl, args)
		case "infohashes":
			printInfohashes(ctrl, args)
		case "infohash":
			printInfohash(ctrl, args)
		case "metadata":
			printMetadata(ctrl, args)
		case "search":
			searchMetadata(ctrl, args)
		case "start":
			if err := ctrl.Start(); err != nil {
				fmt.Println("error:", err)
				continue
			}
			ctrl.Crawl()
			fmt.Println("crawling")
		case "stop":
			ctrl.Stop()
			fmt.Println("stopped")
		case "exit":
			return nil
		default:
			fmt.Printf("unknown command %q; type 'help' for a list\n", cmd)
		}
	}
}

func limitArg(args []string, def int) int {
	if len(args) == 0 {
		return def
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func printStats(ctrl *controller.Controller) {
	for k, v := range ctrl.Statistics() {
		fmt.Printf("%-28s %s\n", k, v)
	}
}

func printNodes(ctrl *controller.Controller, args []string) {
	recs, err := ctrl.Store().GetNodes(storage.QueryOptions{Limit: limitArg(args, 20)})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, n := range recs {
		fmt.Printf("%s  %s:%d  responsive=%v\n", n.ID, n.Address, n.Port, n.IsResponsive)
	}
}

func printNode(ctrl *controller.Controller, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: node <hex>")
		return
	}
	rec, err := ctrl.Store().GetNode(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("%+v\n", rec)
}

func printInfohashes(ctrl *controller.Controller, args []string) {
	recs, err := ctrl.Store().GetInfoHashes(storage.QueryOptions{Limit: limitArg(args, 20)})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, ih := range recs {
		fmt.Printf("%s  peers=%d  has_metadata=%v\n", ih.InfoHash, ih.PeerCount, ih.HasMetadata)
	}
}

func printInfohash(ctrl *controller.Controller, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: infohash <hex>")
		return
	}
	rec, err := ctrl.Store().GetInfoHash(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("%+v\n", rec)
	peers, err := ctrl.Store().GetPeers(args[0])
	if err == nil {
		for _, p := range peers {
			fmt.Printf("  peer %s:%d\n", p.Address, p.Port)
		}
	}
}

func printMetadata(ctrl *controller.Controller, args []string) {
	recs, err := ctrl.Store().GetMetadatas(storage.QueryOptions{Limit: limitArg(args, 20)})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, m := range recs {
		fmt.Printf("%s  %s  %d bytes\n", m.InfoHash, m.Name, m.TotalSize)
	}
}

func searchMetadata(ctrl *controller.Controller, args []string) {
	if len(args) == 0 {
		fmt.Println("usage: search <query>")
		return
	}
	q := strings.Join(args, " ")
	recs, err := ctrl.Store().GetMetadatas(storage.QueryOptions{Limit: 50, NameContains: &q})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, m := range recs {
		fmt.Printf("%s  %s  %d bytes\n", m.InfoHash, m.Name, m.TotalSize)
	}
}
