package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"anonfeedback/internal/router"
	"anonfeedback/pkg/types"
)

// FeedbackService is the part of the session coordinator the HTTP API drives
type FeedbackService interface {
	Setup(ctx context.Context, classID string, topicNames []string) (*types.ClassSession, error)
	Topics(classID string) ([]types.Topic, error)
	SubmitFeedback(ctx context.Context, classID string, ratings []types.RatingInput, comment string) error
	SubmitLiveRating(ctx context.Context, classID string, topicID int, score int) (types.RatingResult, error)
	SubmitComment(ctx context.Context, classID string, text string) (*types.Comment, error)
	Summary(ctx context.Context, classID string) (*types.Summary, error)
	Presence(classID string) types.PresenceCounts
	GetStats() map[string]interface{}
}

// HealthChecker reports storage availability
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	service       FeedbackService
	health        HealthChecker
	allowedOrigin string
	router        *mux.Router
	liveLimiter   *router.RateLimiter // per client address; nil leaves live ratings unlimited
	startedAt     time.Time
}

// NewServer wires the routes. allowedOrigin is sent as Access-Control-Allow-Origin.
func NewServer(service FeedbackService, health HealthChecker, allowedOrigin string) *Server {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	s := &Server{
		service:       service,
		health:        health,
		allowedOrigin: allowedOrigin,
		router:        mux.NewRouter(),
		startedAt:     time.Now(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS and JSON middleware applied to all API routes for web client compatibility
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.corsMiddleware, s.jsonMiddleware)

	api.HandleFunc("/class/{classId}/setup", s.setupClass).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/class/{classId}/topics", s.getTopics).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/class/{classId}/presence", s.getPresence).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/feedback/{classId}", s.submitFeedback).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/feedback/{classId}/live", s.submitLiveRating).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/feedback/{classId}/comment", s.submitComment).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/feedback/{classId}/summary", s.getSummary).Methods(http.MethodGet, http.MethodOptions)

	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck)))).
		Methods(http.MethodGet, http.MethodOptions)

	s.router.MethodNotAllowedHandler = s.jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}))
	s.router.NotFoundHandler = s.jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Route not found", http.StatusNotFound)
	}))
}

// LimitLiveRatings caps POST /api/feedback/{classId}/live per client address
func (s *Server) LimitLiveRatings(limiter *router.RateLimiter) {
	s.liveLimiter = limiter
}

// Mount registers a handler outside the API middleware, such as the WebSocket endpoint
func (s *Server) Mount(path string, handler http.Handler) {
	s.router.Handle(path, handler)
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type SetupRequest struct {
	Topics []string `json:"topics" validate:"required,min=1,dive,notblank"`
}

type SetupResponse struct {
	Message string        `json:"message"`
	ClassID string        `json:"classId"`
	Topics  []types.Topic `json:"topics"`
}

type TopicsResponse struct {
	Topics []types.Topic `json:"topics"`
}

type RatingRequest struct {
	TopicID int `json:"topicId" validate:"gte=1"`
	Score   int `json:"score" validate:"gte=1,lte=10"`
}

type FeedbackRequest struct {
	Ratings        []RatingRequest `json:"ratings" validate:"dive"`
	GeneralComment string          `json:"generalComment"`
}

type CommentRequest struct {
	Text string `json:"text" validate:"notblank"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type TopicSummaryResponse struct {
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	AverageRating float64 `json:"averageRating"`
	RatingCount   int64   `json:"ratingCount"`
}

type SummaryResponse struct {
	ClassID         string                 `json:"classId"`
	Topics          []TopicSummaryResponse `json:"topics"`
	GeneralComments []types.Comment        `json:"generalComments"`
}

type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Database  string                 `json:"database"`
	Uptime    string                 `json:"uptime"`
	Stats     map[string]interface{} `json:"stats"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: POST /api/class/{classId}/setup - destructive replace of the topic list
func (s *Server) setupClass(w http.ResponseWriter, r *http.Request) {
	var req SetupRequest
	if !s.decode(w, r, &req) {
		return
	}

	session, err := s.service.Setup(r.Context(), mux.Vars(r)["classId"], req.Topics)
	if err != nil {
		s.sendServiceError(w, err, "Failed to set up class")
		return
	}

	s.sendJSON(w, http.StatusCreated, SetupResponse{
		Message: "Topics set up successfully",
		ClassID: session.ClassID,
		Topics:  session.Topics,
	})
}

// FUNCTIONAL DISCOVERY: GET /api/class/{classId}/topics
func (s *Server) getTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.service.Topics(mux.Vars(r)["classId"])
	if err != nil {
		s.sendServiceError(w, err, "Failed to get topics")
		return
	}
	s.sendJSON(w, http.StatusOK, TopicsResponse{Topics: topics})
}

// FUNCTIONAL DISCOVERY: GET /api/class/{classId}/presence - unknown classes simply have nobody connected
func (s *Server) getPresence(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.service.Presence(mux.Vars(r)["classId"]))
}

// FUNCTIONAL DISCOVERY: POST /api/feedback/{classId} - all-or-nothing final submission
func (s *Server) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if !s.decode(w, r, &req) {
		return
	}

	ratings := make([]types.RatingInput, len(req.Ratings))
	for i, rating := range req.Ratings {
		ratings[i] = types.RatingInput{TopicID: rating.TopicID, Score: rating.Score}
	}

	if err := s.service.SubmitFeedback(r.Context(), mux.Vars(r)["classId"], ratings, req.GeneralComment); err != nil {
		s.sendServiceError(w, err, "Failed to submit feedback")
		return
	}
	s.sendJSON(w, http.StatusCreated, MessageResponse{Message: "Feedback submitted successfully"})
}

// FUNCTIONAL DISCOVERY: POST /api/feedback/{classId}/live - single rating, returns the new aggregate
func (s *Server) submitLiveRating(w http.ResponseWriter, r *http.Request) {
	if s.liveLimiter != nil && !s.liveLimiter.Allow(clientAddress(r)) {
		s.sendError(w, "Too many live ratings, slow down", http.StatusTooManyRequests)
		return
	}

	var req RatingRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.service.SubmitLiveRating(r.Context(), mux.Vars(r)["classId"], req.TopicID, req.Score)
	if err != nil {
		s.sendServiceError(w, err, "Failed to submit rating")
		return
	}
	s.sendJSON(w, http.StatusOK, result)
}

// FUNCTIONAL DISCOVERY: POST /api/feedback/{classId}/comment
func (s *Server) submitComment(w http.ResponseWriter, r *http.Request) {
	var req CommentRequest
	if !s.decode(w, r, &req) {
		return
	}

	if _, err := s.service.SubmitComment(r.Context(), mux.Vars(r)["classId"], req.Text); err != nil {
		s.sendServiceError(w, err, "Failed to submit comment")
		return
	}
	s.sendJSON(w, http.StatusCreated, MessageResponse{Message: "Comment submitted successfully"})
}

// FUNCTIONAL DISCOVERY: GET /api/feedback/{classId}/summary
func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Summary(r.Context(), mux.Vars(r)["classId"])
	if err != nil {
		s.sendServiceError(w, err, "Failed to get summary")
		return
	}

	topics := make([]TopicSummaryResponse, len(summary.Topics))
	for i, topic := range summary.Topics {
		topics[i] = TopicSummaryResponse{
			ID:            topic.ID,
			Name:          topic.Name,
			AverageRating: topic.Average,
			RatingCount:   topic.Count,
		}
	}
	comments := summary.Comments
	if comments == nil {
		comments = []types.Comment{}
	}

	s.sendJSON(w, http.StatusOK, SummaryResponse{
		ClassID:         summary.ClassID,
		Topics:          topics,
		GeneralComments: comments,
	})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Database:  "healthy",
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Stats:     s.service.GetStats(),
	}

	status := http.StatusOK
	if err := s.health.HealthCheck(ctx); err != nil {
		response.Status = "unhealthy"
		response.Database = fmt.Sprintf("error: %v", err)
		// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
		status = http.StatusServiceUnavailable
	}

	s.sendJSON(w, status, response)
}

// decode reads and validates a JSON body, answering 400 itself on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	if err := validateRequest(req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// sendServiceError maps the error taxonomy onto status codes. Internal details are logged, not returned.
func (s *Server) sendServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, types.ErrNotFound):
		s.sendError(w, err.Error(), http.StatusNotFound)
	default:
		log.Printf("%s: %v", fallback, err)
		s.sendError(w, fallback, http.StatusInternalServerError)
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
// clientAddress is the remote host without its port
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access from the configured origin
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// FUNCTIONAL DISCOVERY: Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
