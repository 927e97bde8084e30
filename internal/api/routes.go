package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/frostbay-project/frostbay/internal/db"
	intnet "github.com/frostbay-project/frostbay/internal/network"
	"github.com/frostbay-project/frostbay/internal/util"
)

// handlePing is a liveness probe.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pong": true})
}

// handleStatus reports backend identity, uptime, counters and host health.
func (s *Server) handleStatus(c *gin.Context) {
	backend := s.cfg.GetBackend()

	serverCount, err := s.store.CountGameServers()
	if err != nil {
		log.Error().Err(err).Msg("failed to count game servers")
	}

	cpuUsage, err := util.GetCPUUsage()
	if err != nil {
		log.Error().Err(err).Msg("failed to read cpu usage")
	}

	var memory *util.MemoryUsage
	if m, err := util.GetMemoryUsage(); err == nil {
		memory = m
	} else {
		log.Error().Err(err).Msg("failed to read memory usage")
	}

	c.JSON(http.StatusOK, gin.H{
		"backend_name":   backend.Name,
		"region":         backend.Region,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"fesl_clients":   s.feslConns.Count(),
		"gamespy_peers":  s.gsConns.Count(),
		"game_servers":   serverCount,
		"cpu_percent":    cpuUsage,
		"memory":         memory,
		"system":         util.GetSystemInfo(),
	})
}

// handleServers lists game servers currently registered via heartbeats.
func (s *Server) handleServers(c *gin.Context) {
	servers, err := s.store.ListGameServers()
	if err != nil {
		log.Error().Err(err).Msg("failed to list game servers")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list game servers"})
		return
	}
	if servers == nil {
		servers = []db.GameServer{}
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers, "count": len(servers)})
}

type clientInfo struct {
	RemoteAddr   string    `json:"remote_addr"`
	Endpoint     string    `json:"endpoint"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// handleClients lists active connections on both endpoints.
func (s *Server) handleClients(c *gin.Context) {
	clients := []clientInfo{}
	for endpoint, registry := range map[string]*intnet.Registry{
		"fesl":    s.feslConns,
		"gamespy": s.gsConns,
	} {
		for addr, conn := range registry.Snapshot() {
			clients = append(clients, clientInfo{
				RemoteAddr:   addr,
				Endpoint:     endpoint,
				ConnectedAt:  conn.ConnectedAt(),
				LastActivity: conn.LastActivity(),
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"clients": clients, "count": len(clients)})
}

// handleAccounts lists accounts that have logged in.
func (s *Server) handleAccounts(c *gin.Context) {
	accounts, err := s.store.ListAccounts()
	if err != nil {
		log.Error().Err(err).Msg("failed to list accounts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list accounts"})
		return
	}
	if accounts == nil {
		accounts = []db.Account{}
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts, "count": len(accounts)})
}
