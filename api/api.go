// Package api serves the post store as a read-only JSON API.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pevans/blogmirror/archive"
	"github.com/pevans/blogmirror/audit"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Server serves posts, categories and tags from a store, and crawl runs
// from an audit ledger when one is configured.
type Server struct {
	store  *archive.Store
	ledger *audit.Ledger
}

// NewServer creates an API server. ledger may be nil.
func NewServer(store *archive.Store, ledger *audit.Ledger) *Server {
	return &Server{store: store, ledger: ledger}
}

// SetupRouter configures the Gin router with every route.
func (s *Server) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	v1 := router.Group("/api/v1")
	v1.GET("/posts", s.HandleListPosts)
	v1.GET("/posts/:id", s.HandleGetPost)
	v1.GET("/categories", s.HandleListCategories)
	v1.GET("/tags", s.HandleListTags)
	v1.GET("/runs", s.HandleListRuns)
	v1.GET("/runs/:id", s.HandleGetRun)

	return router
}

// ListPostsResponse is the body of GET /api/v1/posts.
type ListPostsResponse struct {
	Posts  []archive.Post `json:"posts"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorResponse(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// HandleListPosts handles GET /api/v1/posts. Posts are listed newest first
// and may be filtered by category and tag.
func (s *Server) HandleListPosts(c *gin.Context) {
	posts := s.store.Sorted()

	if category := c.Query("category"); category != "" {
		posts = filterPosts(posts, func(p archive.Post) bool { return p.Category == category })
	}
	if tag := c.Query("tag"); tag != "" {
		posts = filterPosts(posts, func(p archive.Post) bool {
			for _, t := range p.Tags {
				if t == tag {
					return true
				}
			}
			return false
		})
	}

	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	total := len(posts)
	c.JSON(http.StatusOK, ListPostsResponse{
		Posts:  paginate(posts, offset, limit),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// HandleGetPost handles GET /api/v1/posts/:id. The id may also be an
// artifact filename.
func (s *Server) HandleGetPost(c *gin.Context) {
	id := c.Param("id")

	post, err := s.store.Get(id)
	if errors.Is(err, archive.ErrNotFound) {
		post, err = s.store.GetByFilename(id)
	}
	if errors.Is(err, archive.ErrNotFound) {
		errorResponse(c, http.StatusNotFound, "not_found", "Post not found")
		return
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "internal_error", "Failed to get post: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, post)
}

// HandleListCategories handles GET /api/v1/categories.
func (s *Server) HandleListCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": s.store.Categories()})
}

// HandleListTags handles GET /api/v1/tags.
func (s *Server) HandleListTags(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tags": s.store.Tags()})
}

// HandleListRuns handles GET /api/v1/runs.
func (s *Server) HandleListRuns(c *gin.Context) {
	if s.ledger == nil {
		errorResponse(c, http.StatusNotFound, "audit_disabled", "No audit ledger is configured")
		return
	}

	limit, _, ok := pagination(c)
	if !ok {
		return
	}

	runs, err := s.ledger.ListRuns(limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "internal_error", "Failed to list runs: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// HandleGetRun handles GET /api/v1/runs/:id, returning the run and its
// recorded outcomes. The id "latest" selects the most recent run.
func (s *Server) HandleGetRun(c *gin.Context) {
	if s.ledger == nil {
		errorResponse(c, http.StatusNotFound, "audit_disabled", "No audit ledger is configured")
		return
	}

	var run *audit.Run
	var err error
	if c.Param("id") == "latest" {
		run, err = s.ledger.LatestRun()
	} else {
		id, perr := uuid.Parse(c.Param("id"))
		if perr != nil {
			errorResponse(c, http.StatusBadRequest, "invalid_id", "Invalid run ID: "+perr.Error())
			return
		}
		run, err = s.ledger.GetRun(id)
	}
	if errors.Is(err, audit.ErrRunNotFound) {
		errorResponse(c, http.StatusNotFound, "not_found", "Run not found")
		return
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "internal_error", "Failed to get run: "+err.Error())
		return
	}

	filter := audit.Filter{DefaultedOnly: c.Query("defaulted") == "true"}
	if outcome := c.Query("outcome"); outcome != "" {
		filter.Outcome = &outcome
	}
	records, err := s.ledger.ListRecords(run.RunID, filter)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "internal_error", "Failed to list outcomes: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"run": run, "outcomes": records})
}

// pagination parses limit and offset, writing a 400 response and returning
// false when either is invalid.
func pagination(c *gin.Context) (limit, offset int, ok bool) {
	limit = defaultLimit
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed < 1 {
			errorResponse(c, http.StatusBadRequest, "invalid_parameter", "Invalid limit parameter")
			return 0, 0, false
		}
		limit = min(parsed, maxLimit)
	}

	if offsetParam := c.Query("offset"); offsetParam != "" {
		parsed, err := strconv.Atoi(offsetParam)
		if err != nil || parsed < 0 {
			errorResponse(c, http.StatusBadRequest, "invalid_parameter", "Invalid offset parameter")
			return 0, 0, false
		}
		offset = parsed
	}

	return limit, offset, true
}

func filterPosts(posts []archive.Post, keep func(archive.Post) bool) []archive.Post {
	filtered := []archive.Post{}
	for _, p := range posts {
		if keep(p) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

func paginate(posts []archive.Post, offset, limit int) []archive.Post {
	if offset >= len(posts) {
		return []archive.Post{}
	}
	end := min(offset+limit, len(posts))
	return posts[offset:end]
}
