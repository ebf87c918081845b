package httpapi

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// handleHealth is GET /health: a single synthesized liveness+readiness
// view, matching spec.md's plural "/health, /health/*" row.
func (s *Server) handleHealth(c *gin.Context) {
	ready, detail := s.probeReadiness(c.Request.Context())
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"alive": true, "ready": ready, "components": detail})
}

// handleLiveness is GET /health/live: the process is up and serving,
// nothing more. Recovered from original_source/app/health_endpoints.py,
// which splits liveness from readiness; spec.md names only the plural
// form and leaves the split unspecified.
func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alive": true})
}

// handleReadiness is GET /health/ready: C1 and C2 both answer a ping
// within readyTimeout (default 2s).
func (s *Server) handleReadiness(c *gin.Context) {
	ready, detail := s.probeReadiness(c.Request.Context())
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": ready, "components": detail})
}

func (s *Server) probeReadiness(ctx context.Context) (bool, map[string]string) {
	ctx, cancel := context.WithTimeout(ctx, s.readyTimeout)
	defer cancel()

	detail := make(map[string]string, 2)
	var mu sync.Mutex
	var wg sync.WaitGroup
	ready := true

	check := func(name string, ping func(context.Context) error) {
		defer wg.Done()
		err := ping(ctx)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			ready = false
			detail[name] = "unavailable: " + err.Error()
			return
		}
		detail[name] = "ok"
	}

	wg.Add(2)
	go check("store", s.tasks.Ping)
	go check("coordination", s.queue.Ping)
	wg.Wait()

	return ready, detail
}
