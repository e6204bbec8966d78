package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kadcrawl/kadcrawl/internal/storage"
)

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Statistics())
}

func (s *Server) getNodes(c *gin.Context) {
	opt := storage.QueryOptions{Limit: parseLimit(c, 100), Offset: parseOffset(c)}
	recs, err := s.store.GetNodes(opt)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": recs})
}

func (s *Server) getNode(c *gin.Context) {
	rec, err := s.store.GetNode(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) getInfohashes(c *gin.Context) {
	opt := storage.QueryOptions{Limit: parseLimit(c, 100), Offset: parseOffset(c)}
	recs, err := s.store.GetInfoHashes(opt)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"infohashes": recs})
}

func (s *Server) getInfohash(c *gin.Context) {
	hash := c.Param("hash")
	rec, err := s.store.GetInfoHash(hash)
	if err != nil {
		fail(c, http.StatusNotFound, err)
		return
	}
	peers, err := s.store.GetPeers(hash)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	trackers, err := s.store.GetTrackers(hash)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"infohash": rec, "peers": peers, "trackers": trackers})
}

func (s *Server) getMetadatas(c *gin.Context) {
	opt := storage.QueryOptions{Limit: parseLimit(c, 100), Offset: parseOffset(c)}
	recs, err := s.store.GetMetadatas(opt)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metadata": recs})
}

func (s *Server) getMetadataOne(c *gin.Context) {
	hash := c.Param("hash")
	rec, err := s.store.GetMetadata(hash)
	if err != nil {
		fail(c, http.StatusNotFound, err)
		return
	}
	files, err := s.store.GetFiles(hash)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metadata": rec, "files": files})
}

// search answers ?q=<substring> against metadata names, the same
// NameContains filter the interactive CLI's `search` command drives.
func (s *Server) search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		fail(c, http.StatusBadRequest, errMissingQuery)
		return
	}
	opt := storage.QueryOptions{Limit: parseLimit(c, 100), Offset: parseOffset(c), NameContains: &q}
	recs, err := s.store.GetMetadatas(opt)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metadata": recs})
}

func (s *Server) postStart(c *gin.Context) {
	if err := s.ctrl.Start(); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	s.ctrl.Crawl()
	c.JSON(http.StatusOK, gin.H{"state": s.ctrl.State().String()})
}

func (s *Server) postStop(c *gin.Context) {
	s.ctrl.Stop()
	c.JSON(http.StatusOK, gin.H{"state": s.ctrl.State().String()})
}
