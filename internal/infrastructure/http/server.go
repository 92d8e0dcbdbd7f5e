// Package http provides the HTTP server infrastructure.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/linyone/chatrag/internal/domain/entities"
	"github.com/linyone/chatrag/internal/domain/usecases"
)

const (
	maxRequestBytes  = 32 << 20
	defaultQueryTopK = 5
	maxQueryTopK     = 50
)

// writeSlack covers request parsing, attachment extraction and retrieval.
const writeSlack = time.Minute

// Index is the retrieval index as seen by the HTTP layer.
type Index interface {
	Ready() bool
	DocCount() int
	Dimension() int
	Retrieve(ctx context.Context, query string, topK int) []entities.RetrievalResult
}

// ProviderStatus reports the cascade providers.
type ProviderStatus interface {
	Configured() map[string]bool
	Auth() map[string]bool
}

// Options configures the listener.
type Options struct {
	Addr string
	// WriteTimeout bounds a whole response. Zero means no limit.
	WriteTimeout time.Duration
}

// WriteTimeoutFor sizes the write deadline for a cascade that can make calls
// sequential upstream requests, each bounded by perCall.
func WriteTimeoutFor(perCall time.Duration, calls int) time.Duration {
	if perCall <= 0 {
		return 0
	}
	return perCall*time.Duration(calls) + writeSlack
}

// Server is the HTTP server for the chat API.
type Server struct {
	chat      *usecases.ChatUseCase
	index     Index
	providers ProviderStatus
	opts      Options
}

// NewServer creates a new HTTP server.
func NewServer(chat *usecases.ChatUseCase, index Index, providers ProviderStatus, opts Options) *Server {
	return &Server{
		chat:      chat,
		index:     index,
		providers: providers,
		opts:      opts,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("POST /chat", s.handleChat)
	return corsMiddleware(requestIDMiddleware(loggingMiddleware(mux)))
}

func (s *Server) httpServer() *http.Server {
	return &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      s.opts.WriteTimeout,
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := s.httpServer()

	log.Printf("[INFO] Chat server starting on %s (write timeout %s)", s.opts.Addr, s.opts.WriteTimeout)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type healthResponse struct {
	OK                  bool            `json:"ok"`
	IndexLoaded         bool            `json:"index_loaded"`
	DocCount            int             `json:"doc_count"`
	ProvidersConfigured map[string]bool `json:"providers_configured"`
	ProvidersAuth       map[string]bool `json:"providers_auth,omitempty"`
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{OK: true, ProvidersConfigured: map[string]bool{}}
	if s.index != nil {
		resp.IndexLoaded = s.index.Ready()
		resp.DocCount = s.index.DocCount()
	}
	if s.providers != nil {
		resp.ProvidersConfigured = s.providers.Configured()
		resp.ProvidersAuth = s.providers.Auth()
	}
	writeJSON(w, http.StatusOK, resp)
}

type readyResponse struct {
	OK    bool `json:"ok"`
	Count int  `json:"count"`
	Dim   int  `json:"dim"`
}

// handleReady reports whether retrieval can be served. It answers 503 until
// an index is loaded.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.index == nil || !s.index.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, readyResponse{})
		return
	}
	writeJSON(w, http.StatusOK, readyResponse{OK: true, Count: s.index.DocCount(), Dim: s.index.Dimension()})
}

type queryRequest struct {
	Q    string `json:"q"`
	TopK *int   `json:"top_k"`
}

type queryMatch struct {
	Rank   int                 `json:"rank"`
	Score  float64             `json:"score"`
	ID     int                 `json:"id"`
	Label  string              `json:"label"`
	Text   string              `json:"text"`
	Source string              `json:"source"`
	Meta   entities.RecordMeta `json:"meta"`
}

type queryResponse struct {
	Query   string       `json:"query"`
	Matches []queryMatch `json:"matches"`
}

// handleQuery returns the raw top-k matches for q. Parameters come from the
// query string or a JSON body; the query string wins.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/json" {
		body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Bad request: invalid JSON body: %v", err))
			return
		}
	}
	params := r.URL.Query()
	if q := params.Get("q"); q != "" {
		req.Q = q
	}
	topK := defaultQueryTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	if v := params.Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Bad request: top_k must be an integer, got %q", v))
			return
		}
		topK = n
	}

	if strings.TrimSpace(req.Q) == "" {
		writeDetail(w, http.StatusBadRequest, "Bad request: 'q' is required")
		return
	}
	if topK < 1 || topK > maxQueryTopK {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Bad request: top_k must be between 1 and %d", maxQueryTopK))
		return
	}
	if s.index == nil || !s.index.Ready() {
		writeDetail(w, http.StatusServiceUnavailable, "index not loaded")
		return
	}

	resp := queryResponse{Query: req.Q, Matches: []queryMatch{}}
	for _, res := range s.index.Retrieve(r.Context(), req.Q, topK) {
		resp.Matches = append(resp.Matches, queryMatch{
			Rank:   res.Rank,
			Score:  res.Score,
			ID:     res.DocumentID,
			Label:  res.Label,
			Text:   res.Record.Text,
			Source: res.Record.Source,
			Meta:   res.Record.Meta,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChat answers one chat message. Any unexpected failure still returns
// a usable fallback answer with status 500.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[ERROR] panic in /chat: %v", rec)
			writeJSON(w, http.StatusInternalServerError, s.chat.FailureResponse(r.Context(), fmt.Errorf("%v", rec)))
		}
	}()

	req, err := parseChatRequest(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.chat.Chat(r.Context(), req)
	if errors.Is(err, usecases.ErrMessageRequired) {
		writeDetail(w, http.StatusBadRequest, "Bad request: "+err.Error())
		return
	}
	if err != nil {
		log.Printf("[ERROR] chat failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, s.chat.FailureResponse(r.Context(), err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// chatJSON is the JSON form of a chat request.
type chatJSON struct {
	Message   string `json:"message"`
	Language  string `json:"language"`
	Assistant string `json:"assistant"`
}

// parseChatRequest reads multipart, urlencoded or JSON bodies.
func parseChatRequest(r *http.Request) (*entities.ChatRequest, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var fields chatJSON
	var files []entities.Attachment

	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("Bad request: invalid JSON body: %v", err)
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxRequestBytes); err != nil {
			return nil, fmt.Errorf("Bad request: invalid form: %v", err)
		}
		fields = chatJSON{
			Message:   r.FormValue("message"),
			Language:  r.FormValue("language"),
			Assistant: r.FormValue("assistant"),
		}
		var err error
		if files, err = readFiles(r.MultipartForm); err != nil {
			return nil, err
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("Bad request: invalid form: %v", err)
		}
		fields = chatJSON{
			Message:   r.PostFormValue("message"),
			Language:  r.PostFormValue("language"),
			Assistant: r.PostFormValue("assistant"),
		}
	default:
		return nil, errors.New("Bad request: 'message' is required")
	}

	lang, ok := entities.ParseLanguage(fields.Language)
	if !ok {
		return nil, fmt.Errorf("Bad request: language must be 'en' or 'my', got %q", fields.Language)
	}
	category, ok := entities.ParseCategory(fields.Assistant)
	if !ok {
		return nil, fmt.Errorf("Bad request: assistant must be 'emergency' or 'mental', got %q", fields.Assistant)
	}
	return &entities.ChatRequest{
		Message:  fields.Message,
		Language: lang,
		Category: category,
		Files:    files,
	}, nil
}

func readFiles(form *multipart.Form) ([]entities.Attachment, error) {
	if form == nil {
		return nil, nil
	}
	var out []entities.Attachment
	for _, key := range []string{"files", "files[]"} {
		for _, fh := range form.File[key] {
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("Bad request: opening %s: %v", fh.Filename, err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("Bad request: reading %s: %v", fh.Filename, err)
			}
			out = append(out, entities.Attachment{
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] writing response: %v", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
