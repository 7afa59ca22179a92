package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sibyl/internal/answer"
	"sibyl/internal/domain"
	"sibyl/internal/middleware"
	"sibyl/internal/retrieval"
)

// Retriever searches the corpus for chunks relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts *retrieval.Options) ([]domain.RetrievalResult, error)
}

// Answerer produces a grounded, attributed answer for one question.
type Answerer interface {
	Answer(ctx context.Context, question string, opts answer.Options) (domain.Answer, error)
}

// Corpus lists what has been ingested, for the discovery tool.
type Corpus interface {
	ListDocuments(ctx context.Context) ([]domain.Document, error)
	ListWebsiteSources(ctx context.Context) ([]domain.WebsiteSource, error)
}

type Handler struct {
	retriever    Retriever
	answerer     Answerer
	corpus       Corpus
	sessions     map[string]chan string // sessionId -> serialized JSON-RPC responses
	sessionsLock sync.RWMutex
}

func NewHandler(r Retriever, a Answerer, c Corpus) *Handler {
	return &Handler{
		retriever: r,
		answerer:  a,
		corpus:    c,
		sessions:  make(map[string]chan string),
	}
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type AskArgs struct {
	Question     string   `json:"question"`
	ContextLimit *int     `json:"context_limit,omitempty"`
	Temperature  *float32 `json:"temperature,omitempty"`
}

type SearchArgs struct {
	Query     string   `json:"query"`
	Limit     *int     `json:"limit,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

// processRequest handles one JSON-RPC request. A nil return means no
// response should be sent (notifications).
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "sibyl-mcp",
					"version": "1.0.0",
				},
			},
		}

	case "notifications/initialized":
		return nil

	case "tools/list":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  ListToolsResult{Tools: toolCatalog()},
		}

	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			slog.Warn("invalid params structure", "error", err)
			resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
			return &resp
		}
		return h.callTool(ctx, req.ID, params)
	}

	slog.Warn("unknown jsonrpc method", "method", req.Method)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func toolCatalog() []Tool {
	return []Tool{
		{
			Name: "sibyl_ask",
			Description: `Question-answering tool. Retrieves relevant chunks from the ingested corpus, grounds an LLM answer in them, and returns the answer with source attribution and a confidence score derived from retrieval similarity.

USAGE EXAMPLES:
- sibyl_ask(question="How do I configure webhooks?")
- sibyl_ask(question="What ports does the service listen on?", context_limit=3)`,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"question": map[string]string{
						"type":        "string",
						"description": "The question to answer",
					},
					"context_limit": map[string]interface{}{
						"type":        "integer",
						"description": "Max chunks to ground the answer in (default 5).",
						"minimum":     1,
						"maximum":     10,
					},
					"temperature": map[string]interface{}{
						"type":        "number",
						"description": "LLM temperature (default 0.1).",
						"minimum":     0.0,
						"maximum":     2.0,
					},
				},
				"required": []string{"question"},
			},
		},
		{
			Name: "sibyl_search",
			Description: `Raw retrieval tool. Returns the most similar chunks with their scores and parent documents, without invoking the LLM. Use this to inspect what the corpus knows before asking, or when you want the evidence rather than a synthesized answer.

USAGE EXAMPLES:
- sibyl_search(query="database configuration")
- sibyl_search(query="rate limiting", limit=3, threshold=0.4)`,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]string{
						"type":        "string",
						"description": "The search query",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Max results to return (default from settings).",
						"minimum":     1,
						"maximum":     50,
					},
					"threshold": map[string]interface{}{
						"type":        "number",
						"description": "Drop results scoring below this similarity.",
						"minimum":     0.0,
						"maximum":     1.0,
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name: "sibyl_list_sources",
			Description: `Discovery tool. Lists the ingested documents and crawled websites with their chunk counts. Use this at the start of a session to understand what the corpus contains.

USAGE EXAMPLE:
sibyl_list_sources()`,
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

func (h *Handler) callTool(ctx context.Context, id interface{}, params CallParams) *JSONRPCResponse {
	switch params.Name {
	case "sibyl_ask":
		return h.callAsk(ctx, id, params.Arguments)
	case "sibyl_search":
		return h.callSearch(ctx, id, params.Arguments)
	case "sibyl_list_sources":
		return h.callListSources(ctx, id)
	}

	slog.Warn("tool not found", "tool", params.Name)
	resp := makeErrorResponse(id, ErrMethodNotFound, "Tool not found: "+params.Name)
	return &resp
}

func (h *Handler) callAsk(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args AskArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid ask arguments")
		return &resp
	}
	if strings.TrimSpace(args.Question) == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "question is required")
		return &resp
	}

	opts := answer.Options{Temperature: 0.1}
	if args.ContextLimit != nil {
		opts.ContextLimit = *args.ContextLimit
	}
	if args.Temperature != nil {
		opts.Temperature = *args.Temperature
	}

	ans, err := h.answerer.Answer(ctx, args.Question, opts)
	if err != nil {
		slog.Error("ask failed", "error", err)
		return toolError(id, "Ask failed: "+err.Error())
	}

	var b strings.Builder
	b.WriteString(ans.Text)
	b.WriteString(fmt.Sprintf("\n\nConfidence: %.2f\n", ans.Confidence))
	if len(ans.Sources) > 0 {
		b.WriteString("Sources:\n")
		for i, src := range ans.Sources {
			title := src.Title
			if title == "" {
				title = src.URI
			}
			b.WriteString(fmt.Sprintf("%d. %s (%s) score=%.2f\n", i+1, title, src.URI, src.Score))
		}
	}

	slog.Info("tool execution completed", "tool", "sibyl_ask", "sources", len(ans.Sources))
	return toolText(id, b.String())
}

func (h *Handler) callSearch(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args SearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid search arguments")
		return &resp
	}
	if strings.TrimSpace(args.Query) == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "query is required")
		return &resp
	}
	if args.Threshold != nil && (*args.Threshold < 0 || *args.Threshold > 1) {
		resp := makeErrorResponse(id, ErrInvalidParams, "threshold must be between 0.0 and 1.0")
		return &resp
	}

	results, err := h.retriever.Retrieve(ctx, args.Query, &retrieval.Options{
		Limit:     args.Limit,
		Threshold: args.Threshold,
	})
	if err != nil {
		if domain.IsValidation(err) {
			resp := makeErrorResponse(id, ErrInvalidParams, err.Error())
			return &resp
		}
		slog.Error("search failed", "error", err)
		return toolError(id, "Search failed: "+err.Error())
	}

	if len(results) == 0 {
		return toolText(id, "No results found.")
	}

	var b strings.Builder
	for i, res := range results {
		b.WriteString(fmt.Sprintf("Result %d (Score: %.2f):\n", i+1, res.Score))
		if res.Document.Title != "" {
			b.WriteString("Title: " + res.Document.Title + "\n")
		}
		if res.Document.URI != "" {
			b.WriteString("URI: " + res.Document.URI + "\n")
		}
		b.WriteString("Content:\n" + res.Chunk.Text + "\n\n---\n")
	}

	slog.Info("tool execution completed", "tool", "sibyl_search", "result_count", len(results))
	return toolText(id, b.String())
}

func (h *Handler) callListSources(ctx context.Context, id interface{}) *JSONRPCResponse {
	docs, err := h.corpus.ListDocuments(ctx)
	if err != nil {
		slog.Error("list_sources failed", "error", err)
		return toolError(id, "Error: "+err.Error())
	}
	sites, err := h.corpus.ListWebsiteSources(ctx)
	if err != nil {
		slog.Error("list_sources failed", "error", err)
		return toolError(id, "Error: "+err.Error())
	}

	if len(docs) == 0 && len(sites) == 0 {
		return toolText(id, "No sources found.")
	}

	type sourceInfo struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Name   string `json:"name"`
		URI    string `json:"uri,omitempty"`
		Chunks int    `json:"chunks"`
	}

	out := make([]sourceInfo, 0, len(sites)+len(docs))
	for _, s := range sites {
		name := s.Title
		if name == "" {
			name = s.RootURL
		}
		out = append(out, sourceInfo{ID: s.ID, Type: "website", Name: name, URI: s.RootURL, Chunks: s.ChunkCount})
	}
	for _, d := range docs {
		// Pages are already represented by their website source.
		if d.Origin == domain.OriginWebsite {
			continue
		}
		name := d.Title
		if name == "" {
			name = d.SourceURI
		}
		out = append(out, sourceInfo{ID: d.ID, Type: d.Origin, Name: name, URI: d.SourceURI, Chunks: d.ChunkCount})
	}

	jsonBytes, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		slog.Error("failed to marshal sources", "error", err)
		return toolError(id, "Error marshalling results")
	}

	slog.Info("tool execution completed", "tool", "sibyl_list_sources", "count", len(out))
	return toolText(id, string(jsonBytes))
}

func toolText(id interface{}, text string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: text}},
		},
	}
}

func toolError(id interface{}, text string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: text}},
			IsError: true,
		},
	}
}

func makeErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.Info("mcp request received", "method", r.Method)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, ErrParse, "Parse error")
		return
	}

	resp := h.processRequest(r.Context(), req)
	if resp != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	} else {
		// Notification, just return OK
		w.WriteHeader(http.StatusOK)
	}
}

// HandleSSE establishes the SSE connection and manages the session.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		h.sessionsLock.Unlock()
		close(msgChan)
		slog.Info("sse session ended", "session_id", sessionID)
	}()

	slog.Info("sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	w.(http.Flusher).Flush()

	fmt.Fprintf(w, "event: id\ndata: %s\n\n", html.EscapeString(sessionID))
	w.(http.Flusher).Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			w.(http.Flusher).Flush()
		case <-ticker.C:
			// Keep-alive comment prevents idle proxies from cutting the stream.
			fmt.Fprintf(w, ": keepalive\n\n")
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts POST messages associated with an SSE session.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		slog.Warn("missing sessionId in message request", "correlation_id", correlationID)
		h.writeHTTPError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", correlationID)
		return
	}

	h.sessionsLock.RLock()
	msgChan, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()

	if !exists {
		slog.Warn("session not found", "session_id", sessionID, "correlation_id", correlationID)
		h.writeHTTPError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", correlationID)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("invalid json in message request", "error", err, "correlation_id", correlationID)
		h.writeHTTPError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON", correlationID)
		return
	}

	// MCP spec: acknowledge immediately, deliver the response over SSE.
	w.WriteHeader(http.StatusAccepted)

	// Detached context keeps the correlation id but ignores the POST's
	// cancellation; the work outlives this request.
	bgCtx := context.WithoutCancel(r.Context())

	go func() {
		resp := h.processRequest(bgCtx, req)
		if resp == nil {
			return
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			slog.Error("failed to marshal response", "error", err, "correlation_id", correlationID)
			return
		}

		h.sessionsLock.RLock()
		defer h.sessionsLock.RUnlock()

		defer func() {
			if rec := recover(); rec != nil {
				slog.Warn("failed to send to sse channel (closed)", "session_id", sessionID, "error", rec)
			}
		}()

		select {
		case msgChan <- string(respBytes):
		default:
			slog.Warn("session channel full, dropping message", "session_id", sessionID, "correlation_id", correlationID)
		}
	}()
}

func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	// JSON-RPC over HTTP carries errors in the body with 200 OK.
	w.WriteHeader(http.StatusOK)
	resp := makeErrorResponse(id, code, message)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) writeHTTPError(w http.ResponseWriter, status int, code string, message string, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"status": "error",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"correlationId": correlationID,
	}
	json.NewEncoder(w).Encode(resp)
}
