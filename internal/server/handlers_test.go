package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentvault/agentvaultd/internal/agent"
	"github.com/agentvault/agentvaultd/internal/docscan"
	"github.com/agentvault/agentvaultd/internal/event"
	"github.com/agentvault/agentvaultd/internal/llm"
	"github.com/agentvault/agentvaultd/internal/orchestrator"
	"github.com/agentvault/agentvaultd/internal/permission"
	"github.com/agentvault/agentvaultd/internal/queue"
	"github.com/agentvault/agentvaultd/internal/session"
	"github.com/agentvault/agentvaultd/internal/vault"
)

type stubLLMClient struct{}

func (stubLLMClient) Query(ctx context.Context, messages []llm.Message, opts llm.QueryOptions, approve llm.ApprovalCallback) (<-chan llm.StreamEvent, error) {
	out := make(chan llm.StreamEvent, 2)
	out <- llm.StreamEvent{Kind: llm.EventText, Text: "ok"}
	out <- llm.StreamEvent{Kind: llm.EventDone}
	close(out)
	return out, nil
}

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	store, err := vault.NewStore(dir)
	require.NoError(t, err)
	sessions, err := session.NewStore(dir, 30*time.Minute)
	require.NoError(t, err)

	q := queue.New(10, 10, "")
	scanner := docscan.New(store, "")
	bus := event.New()
	broker := permission.New(bus, store)
	agents := agent.NewRegistry(store, "")

	llms := llm.NewRegistry()
	llms.RegisterDialer("test", func(ctx context.Context, modelID string) (llm.Client, error) {
		return stubLLMClient{}, nil
	})

	orc := orchestrator.New(orchestrator.Config{
		Vault:         store,
		Agents:        agents,
		Queue:         q,
		Scanner:       scanner,
		Sessions:      sessions,
		Permissions:   broker,
		LLMs:          llms,
		Bus:           bus,
		MaxConcurrent: 1,
	})

	return New(Config{
		Host:         "127.0.0.1",
		Port:         0,
		Orchestrator: orc,
		Agents:       agents,
		Vault:        store,
		Queue:        q,
		Sessions:     sessions,
		Permissions:  broker,
		Scanner:      scanner,
		Bus:          bus,
	})
}

func writeAgentDoc(t *testing.T, store *vault.Store, path, frontMatter, body string) {
	t.Helper()
	content := "---\n" + frontMatter + "\n---\n\n" + body
	require.NoError(t, store.WriteRaw(path, []byte(content)))
}

func TestGetHealth(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Nil(t, body.Details)
}

func TestGetHealthDetailed(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health?detailed=true", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Details)
	assert.Equal(t, 0, body.Details.QueuePending)
}

func TestRequireAPIKeyRejectsMissingHeader(t *testing.T) {
	srv := setupTestServer(t)
	srv.cfg.APIKey = "secret"

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAPIKeyAcceptsMatchingHeader(t *testing.T) {
	srv := setupTestServer(t)
	srv.cfg.APIKey = "secret"

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSpawnAgentRejectsMissingAgentPath(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/agents/spawn", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSpawnAgentEnqueuesAndReportsOnQueue(t *testing.T) {
	srv := setupTestServer(t)
	writeAgentDoc(t, srv.cfg.Vault, "agents/echo.md", "name: echo\nvariant: standalone\nmodel: test:model", "Echo agent.")

	body, _ := json.Marshal(spawnRequest{AgentPath: "agents/echo.md", Message: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/api/agents/spawn", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp spawnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.QueueID)

	snap := srv.cfg.Queue.Snapshot()
	assert.Len(t, snap.Pending, 1)
}

func TestSpawnAgentFutureScheduleIsNotImmediatelyEligible(t *testing.T) {
	srv := setupTestServer(t)
	writeAgentDoc(t, srv.cfg.Vault, "agents/echo.md", "name: echo\nvariant: standalone\nmodel: test:model", "Echo agent.")

	future := time.Now().Add(time.Hour)
	body, _ := json.Marshal(spawnRequest{AgentPath: "agents/echo.md", Message: "hi", ScheduledFor: &future})
	req := httptest.NewRequest(http.MethodPost, "/api/agents/spawn", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Nil(t, srv.cfg.Queue.Next())
}

func TestPostChatRequiresMessage(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader([]byte(`{"agentPath":"agents/echo.md"}`)))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostChatResolvesAgentFromDocumentPath(t *testing.T) {
	srv := setupTestServer(t)
	writeAgentDoc(t, srv.cfg.Vault, "agents/echo.md", "name: echo\nvariant: standalone\nmodel: test:model", "Echo agent.")
	writeAgentDoc(t, srv.cfg.Vault, "notes/today.md", "agents:\n  - agent: agents/echo.md\n    enabled: true", "Today's notes.")

	body, _ := json.Marshal(chatRequest{Message: "hi", DocumentPath: "notes/today.md"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestListDocuments(t *testing.T) {
	srv := setupTestServer(t)
	writeAgentDoc(t, srv.cfg.Vault, "notes/a.md", "", "a")
	writeAgentDoc(t, srv.cfg.Vault, "notes/b.md", "", "b")

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string][]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.ElementsMatch(t, []string{"notes/a.md", "notes/b.md"}, body["documents"])
}

func TestGetDocumentOrAgentsReturnsRawDocument(t *testing.T) {
	srv := setupTestServer(t)
	writeAgentDoc(t, srv.cfg.Vault, "notes/a.md", "", "hello world")

	req := httptest.NewRequest(http.MethodGet, "/api/documents/notes/a.md", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hello world")
}

func TestGetDocumentOrAgentsReturnsAgentEntries(t *testing.T) {
	srv := setupTestServer(t)
	writeAgentDoc(t, srv.cfg.Vault, "notes/a.md", "agents:\n  - agent: agents/echo.md\n    enabled: true", "body")

	req := httptest.NewRequest(http.MethodGet, "/api/documents/notes/a.md/agents", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "agents/echo.md")
}

func TestRunAndResetDocumentAgents(t *testing.T) {
	srv := setupTestServer(t)
	writeAgentDoc(t, srv.cfg.Vault, "notes/a.md", "agents:\n  - agent: agents/echo.md\n    enabled: true", "body")

	runBody, _ := json.Marshal(documentAgentsRequest{Path: "notes/a.md"})
	req := httptest.NewRequest(http.MethodPost, "/api/documents/run-agents", bytes.NewReader(runBody))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	entries, err := srv.cfg.Scanner.GetDocumentAgents("notes/a.md")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "running", string(entries[0].Status))

	resetBody, _ := json.Marshal(documentAgentsRequest{Path: "notes/a.md"})
	req = httptest.NewRequest(http.MethodPost, "/api/documents/reset-agents", bytes.NewReader(resetBody))
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	entries, err = srv.cfg.Scanner.GetDocumentAgents("notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "pending", string(entries[0].Status))
}

func TestListPermissionsEmpty(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/permissions", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}

func TestGrantPermissionNotFound(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/permissions/unknown/grant", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearchVaultRequiresQuery(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchVaultFindsMatch(t *testing.T) {
	srv := setupTestServer(t)
	writeAgentDoc(t, srv.cfg.Vault, "notes/a.md", "", "the quick brown fox")

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=quick", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "notes/a.md")
}

func TestGetVaultSummary(t *testing.T) {
	srv := setupTestServer(t)
	writeAgentDoc(t, srv.cfg.Vault, "notes/a.md", "", "a")

	req := httptest.NewRequest(http.MethodGet, "/api/vault", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "documentCount")
}

func TestLimitBodyRejectsOversizedRequest(t *testing.T) {
	srv := setupTestServer(t)
	srv.cfg.MaxMessageBytes = 10

	req := httptest.NewRequest(http.MethodPost, "/api/agents/spawn", bytes.NewReader([]byte(`{"agentPath":"agents/echo.md","message":"this body is definitely too long"}`)))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
