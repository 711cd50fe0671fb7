// Package api exposes the HTTP surface: opportunity queries, run
// history, admin-triggered ingestion and the per-profile relevance
// pipeline.
package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/maplebid/rfp-finder/internal/auth"
	"github.com/maplebid/rfp-finder/internal/enrich"
	"github.com/maplebid/rfp-finder/internal/ingest"
	"github.com/maplebid/rfp-finder/internal/models"
	"github.com/maplebid/rfp-finder/internal/pipeline"
	"github.com/maplebid/rfp-finder/internal/scoring"
	"github.com/maplebid/rfp-finder/internal/store"
)

type Server struct {
	Echo        *echo.Echo
	DB          *pgxpool.Pool
	Store       store.Store
	Ledger      store.RunLedger
	Examples    store.ExampleStore
	AuthService *auth.Service
	Registry    *ingest.Registry
	Runner      *ingest.Runner
	Pipeline    *pipeline.Pipeline

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

var (
	adminSecretOnce    sync.Once
	adminSecretRuntime string
	adminSecretErr     error
)

func NewServer(pool *pgxpool.Pool, registry *ingest.Registry) *Server {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	allowedOrigins := []string{"http://localhost:4200"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	st := store.NewPostgresStore(pool)
	ledger := store.NewPostgresRunLedger(pool)
	examples := store.NewPostgresExampleStore(pool)

	fetcher := ingest.NewRateLimitedFetcher(ingest.FetchConfig{})
	enricher := enrich.NewEnricher(fetcher, store.NewPostgresAttachmentCache(pool))

	scorer := scoring.Select(os.Getenv("OLLAMA_HOST"), os.Getenv("SCORING_MODEL"))

	s := &Server{
		Echo:        e,
		DB:          pool,
		Store:       st,
		Ledger:      ledger,
		Examples:    examples,
		AuthService: auth.NewService(pool),
		Registry:    registry,
		Runner:      ingest.NewRunner(st, ledger),
		Pipeline:    pipeline.New(st, examples, enricher, scorer),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/opportunities", s.handleListOpportunities)
	api.GET("/opportunities/:id", s.handleGetOpportunity)
	api.GET("/runs", s.handleListRuns)
	api.GET("/stats", s.handleGetStats)
	api.POST("/pipeline/run", s.handleRunPipeline)
	api.POST("/examples", s.handleAddExample)

	// Admin routes
	admin := api.Group("")
	admin.Use(s.adminMiddleware)
	admin.POST("/ingest/source/:id", s.handleIngestSourceByID)
	admin.POST("/ingest/all", s.handleIngestAll)
	admin.GET("/admin/job/:id", s.handleJobStatus)

	// Auth routes
	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	// Protected routes (saved opportunities)
	saved := api.Group("/saved")
	saved.Use(auth.Middleware)
	saved.POST("/:id", s.handleSaveOpportunity)
	saved.DELETE("/:id", s.handleUnsaveOpportunity)
	saved.GET("", s.handleGetSavedOpportunities)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleListOpportunities(c echo.Context) error {
	ctx := c.Request().Context()

	var opps []models.Opportunity
	var err error

	if raw := c.QueryParam("modified_since"); raw != "" {
		since, perr := time.Parse(time.RFC3339, raw)
		if perr != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "modified_since must be RFC3339"})
		}
		opps, err = s.Store.GetModifiedSince(ctx, since)
	} else {
		status := models.Status(c.QueryParam("status"))
		if status == "" {
			status = models.StatusOpen
		}
		switch status {
		case models.StatusOpen, models.StatusClosed, models.StatusAmended, models.StatusUnknown:
		default:
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status"})
		}
		opps, err = s.Store.GetByStatus(ctx, status)
	}
	if err != nil {
		c.Logger().Errorf("Failed to list opportunities: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}

	limit := 50
	if l, perr := strconv.Atoi(c.QueryParam("limit")); perr == nil && l > 0 && l <= 500 {
		limit = l
	}
	if len(opps) > limit {
		opps = opps[:limit]
	}
	if opps == nil {
		opps = []models.Opportunity{}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"count":         len(opps),
		"opportunities": opps,
	})
}

func (s *Server) handleGetOpportunity(c echo.Context) error {
	opp, err := s.Store.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, opp)
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit := 20
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}
	runs, err := s.Ledger.ListRecent(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if runs == nil {
		runs = []models.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetStats(c echo.Context) error {
	ctx := c.Request().Context()

	total, err := s.Store.Count(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	byStatus := map[models.Status]int{}
	for _, status := range []models.Status{models.StatusOpen, models.StatusClosed, models.StatusAmended, models.StatusUnknown} {
		opps, err := s.Store.GetByStatus(ctx, status)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		byStatus[status] = len(opps)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"total":     total,
		"by_status": byStatus,
	})
}

// profileRequest is the JSON shape for a posted pipeline profile.
type profileRequest struct {
	ProfileID           string   `json:"profile_id"`
	KeywordsMode        string   `json:"keywords_mode"`
	Keywords            []string `json:"keywords"`
	ExcludeKeywords     []string `json:"exclude_keywords"`
	PreferredCategories []string `json:"preferred_categories"`
	Regions             []string `json:"regions"`
	ExcludeRegions      []string `json:"exclude_regions"`
	MinBudget           *float64 `json:"min_budget"`
	MaxBudget           *float64 `json:"max_budget"`
	MaxDaysToClose      *int     `json:"max_days_to_close"`
	CitizenshipRequired *string  `json:"citizenship_required"`
	SecurityClearance   *string  `json:"security_clearance"`
	LocalVendorOnly     *bool    `json:"local_vendor_only"`
}

func (r profileRequest) toProfile() (string, models.UserProfile, error) {
	profileID := r.ProfileID
	if profileID == "" {
		profileID = "default"
	}

	mode := models.KeywordsMode(r.KeywordsMode)
	if mode == "" {
		mode = models.KeywordsRequired
	}
	switch mode {
	case models.KeywordsRequired, models.KeywordsPreferred, models.KeywordsExcludeOnly:
	default:
		return "", models.UserProfile{}, fmt.Errorf("invalid keywords_mode %q", r.KeywordsMode)
	}

	return profileID, models.UserProfile{
		ProfileID:           profileID,
		KeywordsMode:        mode,
		Keywords:            r.Keywords,
		ExcludeKeywords:     r.ExcludeKeywords,
		PreferredCategories: r.PreferredCategories,
		EligibleRegions:     r.Regions,
		ExcludeRegions:      r.ExcludeRegions,
		MinBudget:           r.MinBudget,
		MaxBudget:           r.MaxBudget,
		MaxDaysToClose:      r.MaxDaysToClose,
		CitizenshipRequired: r.CitizenshipRequired,
		SecurityClearance:   r.SecurityClearance,
		LocalVendorOnly:     r.LocalVendorOnly,
	}, nil
}

func (s *Server) handleRunPipeline(c echo.Context) error {
	var req profileRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	profileID, profile, err := req.toProfile()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	results, err := s.Pipeline.Run(c.Request().Context(), profileID, profile)
	if err != nil {
		c.Logger().Errorf("Pipeline run failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Pipeline run failed"})
	}
	if results == nil {
		results = []pipeline.Ranked{}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"profile_id": profileID,
		"count":      len(results),
		"results":    results,
	})
}

type exampleRequest struct {
	ProfileID string `json:"profile_id"`
	URL       string `json:"url"`
	Label     string `json:"label"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	RawText   string `json:"raw_text"`
}

func (s *Server) handleAddExample(c echo.Context) error {
	var req exampleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.ProfileID == "" {
		req.ProfileID = "default"
	}

	err := s.Examples.Add(c.Request().Context(), store.Example{
		ProfileID: req.ProfileID,
		URL:       req.URL,
		Label:     req.Label,
		Title:     req.Title,
		Summary:   req.Summary,
		RawText:   req.RawText,
	})
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to add example"})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, map[string]string{"status": "added"})
}

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Signup(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Login(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCreds) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) connectorsForRun() ([]ingest.Connector, error) {
	fetcher := ingest.NewRateLimitedFetcher(ingest.FetchConfig{})
	return s.Registry.Connectors(fetcher)
}

func (s *Server) handleIngestSourceByID(c echo.Context) error {
	sourceID := c.Param("id")

	connectors, err := s.connectorsForRun()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	var target ingest.Connector
	for _, connector := range connectors {
		if connector.Source() == sourceID {
			target = connector
			break
		}
	}
	if target == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown or disabled source %q", sourceID)})
	}

	return s.startIngestJob(c, fmt.Sprintf("ingest %s", sourceID), func(ctx context.Context) (any, error) {
		result := s.Runner.Run(ctx, target)
		if result.Err != nil {
			return nil, result.Err
		}
		return result, nil
	})
}

func (s *Server) handleIngestAll(c echo.Context) error {
	connectors, err := s.connectorsForRun()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return s.startIngestJob(c, "ingest all", func(ctx context.Context) (any, error) {
		results := s.Runner.RunAll(ctx, connectors)
		for _, result := range results {
			if result.Err != nil {
				return results, result.Err
			}
		}
		return results, nil
	})
}

// startIngestJob launches one background ingestion at a time and
// returns 202 with a pollable job ID.
func (s *Server) startIngestJob(c echo.Context, name string, run func(context.Context) (any, error)) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]any{
			"error":  "An ingestion job is already running",
			"job_id": job.ID,
		})
	}

	// context.WithoutCancel detaches from the HTTP lifecycle but keeps
	// trace values. The timeout bounds the whole job.
	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), 30*time.Minute,
	)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Status:    "running",
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go func() {
		defer jobCancel()

		result, err := run(jobCtx)

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = time.Now()
		job.Result = result
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			log.Printf("[%s job %s] failed: %v", name, jobID, err)
			return
		}
		job.Status = "completed"
		log.Printf("[%s job %s] completed", name, jobID)
	}()

	return c.JSON(http.StatusAccepted, map[string]any{
		"message": fmt.Sprintf("%s started", name),
		"job_id":  jobID,
		"poll":    fmt.Sprintf("/api/v1/admin/job/%s", jobID),
	})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")
	s.jobMu.Lock()
	job := s.runningJob
	s.jobMu.Unlock()

	if job == nil || job.ID != queried {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	s.jobMu.Lock()
	resp := map[string]any{
		"id":         job.ID,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	s.jobMu.Unlock()

	return c.JSON(http.StatusOK, resp)
}

// Protected handlers

func (s *Server) handleSaveOpportunity(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	oppID := c.Param("id")
	if _, err := s.Store.Get(ctx, oppID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Opportunity not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}

	if err := s.AuthService.SaveOpportunity(ctx, userID, oppID); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to save opportunity"})
	}

	return c.NoContent(http.StatusOK)
}

func (s *Server) handleUnsaveOpportunity(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	if err := s.AuthService.UnsaveOpportunity(ctx, userID, c.Param("id")); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to unsave opportunity"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "unsaved"})
}

func (s *Server) handleGetSavedOpportunities(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	opps, err := s.AuthService.GetSavedOpportunities(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch saved opportunities"})
	}

	if opps == nil {
		opps = []models.Opportunity{}
	}

	return c.JSON(http.StatusOK, opps)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret, err := adminSecret()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Server admin configuration error"})
		}

		// Check X-Admin-Secret header or Bearer token
		authHeader := c.Request().Header.Get("Authorization")
		adminHeader := c.Request().Header.Get("X-Admin-Secret")

		if adminHeader == secret {
			return next(c)
		}
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			if authHeader[7:] == secret {
				return next(c)
			}
		}

		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}

func adminSecret() (string, error) {
	adminSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
		if secret != "" {
			adminSecretRuntime = secret
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			adminSecretErr = fmt.Errorf("failed to generate ADMIN_SECRET fallback: %w", err)
			return
		}

		adminSecretRuntime = base64.RawURLEncoding.EncodeToString(buf)
		log.Print("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if adminSecretErr != nil {
		return "", adminSecretErr
	}
	if adminSecretRuntime == "" {
		return "", fmt.Errorf("admin secret unavailable")
	}

	return adminSecretRuntime, nil
}
