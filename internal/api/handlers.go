package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/domainx/internal/database"
	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
	"github.com/ZanzyTHEbar/domainx/internal/orchestrator"
)

// LibraryStatus is the status surface of a library
type LibraryStatus struct {
	LibraryID      string                  `json:"library_id"`
	Name           string                  `json:"name"`
	URL            string                  `json:"url"`
	Analysis       database.TrackState     `json:"analysis"`
	Report         database.TrackState     `json:"report"`
	ReportPath     string                  `json:"report_path,omitempty"`
	RankingResults *database.RankingResult `json:"ranking_results,omitempty"`
}

func (s *Server) triggerLibrary(track database.Track) gin.HandlerFunc {
	return func(c *gin.Context) {
		libraryID := c.Param("id")

		taskID, err := s.cfg.Trigger.Enqueue(c.Request.Context(), libraryID, track)
		if errors.Is(err, orchestrator.ErrNothingQueued) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"library_id": libraryID,
				"track":      track,
				"status":     database.StatusFailed,
				"error":      orchestrator.MsgMissingURL,
			})
			return
		}
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"library_id": libraryID,
			"track":      track,
			"task_id":    taskID,
			"status":     database.StatusPending,
		})
	}
}

func (s *Server) triggerDomain(c *gin.Context) {
	ctx := c.Request.Context()
	domainID := c.Param("id")

	track := database.Track(c.DefaultQuery("track", string(database.TrackAnalysis)))
	if !track.Valid() {
		_ = c.Error(apperrors.NewValidationError("track must be analysis or report", string(track)))
		return
	}

	if _, err := s.cfg.Catalog.GetDomain(ctx, domainID); err != nil {
		_ = c.Error(err)
		return
	}

	result, err := s.cfg.Trigger.EnqueueDomain(ctx, domainID, track)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, result)
}

func (s *Server) libraryStatus(c *gin.Context) {
	lib, err := s.cfg.Catalog.GetLibrary(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, LibraryStatus{
		LibraryID:      lib.ID,
		Name:           lib.Name,
		URL:            lib.URL,
		Analysis:       lib.Analysis,
		Report:         lib.Report,
		ReportPath:     lib.ReportPath,
		RankingResults: lib.RankingResults,
	})
}

func (s *Server) getRanking(c *gin.Context) {
	result, hit, err := s.cfg.Rankings.GetOrRank(c.Request.Context(), s.cfg.Ranker, c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	if hit {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) recomputeRanking(c *gin.Context) {
	ctx := c.Request.Context()
	domainID := c.Param("id")

	result, err := s.cfg.Ranker.Rank(ctx, domainID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	s.cfg.Rankings.Set(ctx, domainID, result)

	c.Header("X-Cache", "MISS")
	c.JSON(http.StatusOK, result)
}

func (s *Server) health(c *gin.Context) {
	ctx := c.Request.Context()

	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(s.cfg.Checks))
	for name, check := range s.cfg.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	stats := make(map[string]any, len(s.cfg.Stats)+1)
	for name, fn := range s.cfg.Stats {
		stats[name] = fn()
	}
	stats["ranking_cache"] = s.cfg.Rankings.Stats()

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
		"stats":     stats,
	})
}
