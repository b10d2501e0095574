package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/lexscholar/lexscholar/internal/ai"
	"github.com/lexscholar/lexscholar/internal/auth"
	"github.com/lexscholar/lexscholar/internal/config"
	"github.com/lexscholar/lexscholar/internal/ingest"
	"github.com/lexscholar/lexscholar/internal/quiz"
	"github.com/lexscholar/lexscholar/internal/rag"
	"github.com/lexscholar/lexscholar/internal/search"
	"github.com/lexscholar/lexscholar/internal/store"
	"github.com/lexscholar/lexscholar/internal/textproc"
)

// maxUploadBytes caps a single document upload.
const maxUploadBytes = 32 << 20

func main() {
	fs := pflag.NewFlagSet("lexscholar-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).
		Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting lexscholar api")

	clientConfig, err := providerConfig(cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create model client: %v", err)
	}

	dim := client.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).
		Msg("model client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	chunkCfg := textproc.ChunkConfig{
		Size:     cfg.Chunk.Size,
		Overlap:  cfg.Chunk.Overlap,
		Lookback: cfg.Chunk.Lookback,
	}
	if _, err := textproc.Chunk("probe", chunkCfg); err != nil {
		log.Fatalf("Invalid chunking configuration: %v", err)
	}

	authn := auth.New(cfg.Auth.JwtSecret, st, cfg.Auth.Enabled)
	ingestSvc := ingest.New(st, client, chunkCfg)
	searchSvc := search.NewService(client, st)
	ragSvc := rag.NewService(client)
	quizSvc := quiz.NewService(client)

	srv := &server{
		cfg:    cfg,
		store:  st,
		authn:  authn,
		ingest: ingestSvc,
		search: searchSvc,
		rag:    ragSvc,
		quiz:   quizSvc,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/auth/status", srv.handleAuthStatus)
	mux.HandleFunc("/auth/signup", srv.handleSignUp)
	mux.HandleFunc("/auth/signin", srv.handleSignIn)
	mux.HandleFunc("/auth/logout", srv.handleLogout)
	mux.HandleFunc("/auth/me", authn.Middleware(srv.handleMe))

	mux.HandleFunc("/documents/upload", authn.Middleware(srv.handleUpload))
	mux.HandleFunc("/documents", authn.Middleware(srv.handleListDocuments))
	mux.HandleFunc("/documents/", authn.Middleware(srv.handleDocumentByID))
	mux.HandleFunc("/search", authn.Middleware(srv.handleSearch))
	mux.HandleFunc("/ask", authn.Middleware(srv.handleAsk))
	mux.HandleFunc("/quiz", authn.Middleware(srv.handleQuiz))
	mux.HandleFunc("/stats", authn.Middleware(srv.handleStats))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).
				Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

func providerConfig(cfg config.Specification) (*ai.ClientConfig, error) {
	base := &ai.ClientConfig{
		APIKey:     cfg.APIKey,
		EmbedModel: cfg.EmbedModel,
		ChatModel:  cfg.ChatModel,
		Dim:        cfg.Dim,
		ProjectID:  cfg.ProjectID,
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		base.Provider = ai.ProviderOpenAI
	case "vertexai", "google":
		base.Provider = ai.ProviderVertexAI
		base.Location = cfg.Location
	case "stub":
		base.Provider = ai.ProviderStub
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	return base, nil
}

type server struct {
	cfg    config.Specification
	store  store.DocumentStore
	authn  *auth.Authenticator
	ingest *ingest.Service
	search *search.Service
	rag    *rag.Service
	quiz   *quiz.Service
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing left to do but note it.
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	if pinger, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

func (s *server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.authn.Enabled()})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

func (s *server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.authn.SignUp(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.setAuthCookie(w, r, sess.Token)
	writeJSON(w, http.StatusOK, sess)
}

func (s *server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.authn.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.setAuthCookie(w, r, sess.Token)
	writeJSON(w, http.StatusOK, sess)
}

func (s *server) setAuthCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.TokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https"),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "auth_token", Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusOK)
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no authenticated user")
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, _ := auth.FromRequest(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
	defer cancel()

	doc, err := s.ingest.IngestBytes(ctx, id.UserID, header.Filename, data)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrNoContent), errors.Is(err, textproc.ErrInvalidConfig):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ai.ErrProvider):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, _ := auth.FromRequest(r)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	docs, err := s.store.ListDocuments(ctx, id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *server) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromRequest(r)
	docID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/documents/"), "/")
	if docID == "" || strings.Contains(docID, "/") {
		http.NotFound(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		doc, err := s.store.GetDocument(ctx, docID, id.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "document not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := s.ingest.Delete(ctx, docID, id.UserID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "document not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":     true,
			"document_id": docID,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type searchRequest struct {
	Query      string  `json:"query"`
	TopK       int     `json:"top_k"`
	MinScore   float64 `json:"min_score"`
	DocumentID string  `json:"document_id,omitempty"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, _ := auth.FromRequest(r)

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = s.cfg.Search.TopK
	}
	if req.MinScore == 0 {
		req.MinScore = s.cfg.Search.MinScore
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	res, err := s.search.Query(ctx, id.UserID, req.Query, search.Opts{
		TopK:       req.TopK,
		MinScore:   req.MinScore,
		DocumentID: req.DocumentID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for i := range res {
		if math.IsNaN(res[i].Score) || math.IsInf(res[i].Score, 0) {
			res[i].Score = 0
		}
	}

	hlog.FromRequest(r).Info().Str("q", req.Query).Int("k", req.TopK).
		Int("results", len(res)).Msg("search served")
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   req.Query,
		"results": res,
		"count":   len(res),
	})
}

type askRequest struct {
	Query      string        `json:"query"`
	Mode       string        `json:"mode,omitempty"`
	History    []rag.Message `json:"history,omitempty"`
	TopK       int           `json:"top_k,omitempty"`
	DocumentID string        `json:"document_id,omitempty"`
	FollowUps  bool          `json:"follow_ups,omitempty"`
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, _ := auth.FromRequest(r)

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = s.cfg.Search.TopK
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	chunks, err := s.search.Query(ctx, id.UserID, req.Query, search.Opts{
		TopK:       req.TopK,
		MinScore:   s.cfg.Search.MinScore,
		DocumentID: req.DocumentID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	answer, err := s.rag.Generate(ctx, req.Query, chunks, rag.Mode(req.Mode), req.History)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := map[string]any{"answer": answer}
	if req.FollowUps && answer.Success {
		resp["follow_up_questions"] = s.rag.FollowUps(ctx, req.Query, answer.Answer)
	}
	writeJSON(w, http.StatusOK, resp)
}

type quizRequest struct {
	Topic      string   `json:"topic"`
	DocumentID string   `json:"document_id,omitempty"`
	Count      int      `json:"count,omitempty"`
	Types      []string `json:"types,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
}

func (s *server) handleQuiz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, _ := auth.FromRequest(r)

	var req quizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Topic) == "" && req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "topic or document_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 90*time.Second)
	defer cancel()

	// Retrieve the study material. With only a document id, pull its
	// top chunks with an empty-topic fallback query.
	topic := req.Topic
	if topic == "" {
		topic = "key concepts and holdings"
	}
	chunks, err := s.search.Query(ctx, id.UserID, topic, search.Opts{
		TopK:       10,
		MinScore:   0, // quiz generation wants material, not precision
		DocumentID: req.DocumentID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(chunks) == 0 {
		writeError(w, http.StatusNotFound, "no document content found for quiz generation")
		return
	}

	set, err := s.quiz.Generate(ctx, chunks, quiz.Request{
		Count:      req.Count,
		Types:      req.Types,
		Difficulty: req.Difficulty,
		FocusArea:  req.Topic,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, _ := auth.FromRequest(r)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stats, err := s.store.Stats(ctx, id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
