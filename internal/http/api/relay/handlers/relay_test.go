package handlers

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/amirhdaghestani/openai-api/internal/admission"
	"github.com/amirhdaghestani/openai-api/internal/auth"
	"github.com/amirhdaghestani/openai-api/internal/db"
	"github.com/amirhdaghestani/openai-api/internal/http/middleware"
	"github.com/amirhdaghestani/openai-api/internal/models"
	"github.com/amirhdaghestani/openai-api/internal/provider"
	"github.com/amirhdaghestani/openai-api/internal/quota"
	"github.com/amirhdaghestani/openai-api/internal/security"
	"github.com/amirhdaghestani/openai-api/internal/usage"
)

func openRelayDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := db.Open(fmt.Sprintf("file:relay_%s?mode=memory&cache=shared", t.Name()))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

// seedRelayUser creates a user and returns their plaintext API key.
func seedRelayUser(t *testing.T, conn *gorm.DB, requestLimit int64) string {
	t.Helper()
	apiKey, errGenerate := security.GenerateAPIKey()
	if errGenerate != nil {
		t.Fatalf("generate key: %v", errGenerate)
	}
	permissions, errEncode := models.DefaultPermissions().JSON()
	if errEncode != nil {
		t.Fatalf("encode permissions: %v", errEncode)
	}
	user := models.User{
		UserID:       "u1",
		Name:         "Relay User",
		Role:         models.RoleUser,
		APIKeyHash:   security.HashAPIKey(apiKey),
		Permissions:  permissions,
		RequestLimit: requestLimit,
	}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("seed user: %v", errCreate)
	}
	return apiKey
}

// newRelayEngine wires the relay routes against a downstream base URL.
func newRelayEngine(conn *gorm.DB, downstreamURL string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	verifier := auth.NewVerifier(conn, auth.VerifierConfig{
		JWTSecret:        "access",
		JWTRefreshSecret: "refresh",
	})
	pipeline := admission.NewPipeline(quota.NewLedger(conn), usage.NewRecorder(conn))
	client := provider.NewClient(downstreamURL, "sk-upstream", 5*time.Second)
	relay := NewRelayHandler(pipeline, client)

	engine := gin.New()
	v1 := engine.Group("/v1")
	v1.Use(middleware.APIKeyAuth(verifier))
	v1.POST("/chat/completions", relay.ChatCompletions)
	v1.POST("/embeddings", relay.Embeddings)
	return engine
}

func TestChatCompletionsAccountsAndForwards(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"chatcmpl-1","choices":[]}`))
	}))
	defer downstream.Close()

	conn := openRelayDB(t)
	apiKey := seedRelayUser(t, conn, 2)
	engine := newRelayEngine(conn, downstream.URL)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"gpt-4"}`))
	request.Header.Set("Authorization", "Bearer "+apiKey)
	engine.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if !strings.Contains(recorder.Body.String(), "chatcmpl-1") {
		t.Fatalf("downstream body not forwarded: %s", recorder.Body.String())
	}

	var user models.User
	if errFind := conn.Where("user_id = ?", "u1").Take(&user).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if user.RequestLimit != 1 {
		t.Fatalf("expected request limit 1 after call, got %d", user.RequestLimit)
	}
	var events int64
	if errCount := conn.Model(&models.UsageEvent{}).Count(&events).Error; errCount != nil {
		t.Fatalf("count events: %v", errCount)
	}
	if events != 1 {
		t.Fatalf("expected 1 usage event, got %d", events)
	}
}

func TestChatCompletionsRejectsExhaustedQuota(t *testing.T) {
	var downstreamCalls atomic.Int64
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downstreamCalls.Add(1)
	}))
	defer downstream.Close()

	conn := openRelayDB(t)
	apiKey := seedRelayUser(t, conn, 0)
	engine := newRelayEngine(conn, downstream.URL)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"gpt-4"}`))
	request.Header.Set("Authorization", "Bearer "+apiKey)
	engine.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", recorder.Code)
	}
	if downstreamCalls.Load() != 0 {
		t.Fatal("downstream must not be called for exhausted quota")
	}
	var events int64
	if errCount := conn.Model(&models.UsageEvent{}).Count(&events).Error; errCount != nil {
		t.Fatalf("count events: %v", errCount)
	}
	if events != 0 {
		t.Fatalf("expected no usage events, got %d", events)
	}
}

func TestChatCompletionsForwardsDownstreamErrorWithoutDebit(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"model not found"}}`))
	}))
	defer downstream.Close()

	conn := openRelayDB(t)
	apiKey := seedRelayUser(t, conn, 5)
	engine := newRelayEngine(conn, downstream.URL)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"bogus"}`))
	request.Header.Set("Authorization", "Bearer "+apiKey)
	engine.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected downstream 400 forwarded, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "model not found") {
		t.Fatalf("downstream message not forwarded: %s", recorder.Body.String())
	}

	var user models.User
	if errFind := conn.Where("user_id = ?", "u1").Take(&user).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if user.RequestLimit != 5 {
		t.Fatalf("failed call must not debit, got %d", user.RequestLimit)
	}
}

func TestRelayRejectsUnknownAPIKey(t *testing.T) {
	conn := openRelayDB(t)
	engine := newRelayEngine(conn, "http://127.0.0.1:0")

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/embeddings", strings.NewReader(`{}`))
	request.Header.Set("Authorization", "Bearer mci-bogus")
	engine.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestStreamingStopsOnClientDisconnect(t *testing.T) {
	var chunksSent atomic.Int64
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 5; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			fmt.Fprintf(w, "data: {\"index\":%d}\n\n", i)
			flusher.Flush()
			chunksSent.Add(1)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer downstream.Close()

	conn := openRelayDB(t)
	apiKey := seedRelayUser(t, conn, 5)
	engine := newRelayEngine(conn, downstream.URL)
	front := httptest.NewServer(engine)
	defer front.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	request, errRequest := http.NewRequestWithContext(ctx, http.MethodPost,
		front.URL+"/v1/chat/completions", strings.NewReader(`{"model":"gpt-4","stream":true}`))
	if errRequest != nil {
		t.Fatalf("build request: %v", errRequest)
	}
	request.Header.Set("Authorization", "Bearer "+apiKey)

	response, errDo := http.DefaultClient.Do(request)
	if errDo != nil {
		t.Fatalf("do: %v", errDo)
	}
	defer response.Body.Close()

	// Read exactly three chunks, then drop the connection.
	reader := bufio.NewReader(response.Body)
	received := 0
	for received < 3 {
		line, errRead := reader.ReadString('\n')
		if errRead != nil {
			t.Fatalf("read stream after %d chunks: %v", received, errRead)
		}
		if strings.HasPrefix(strings.TrimSpace(line), "data:") {
			received++
		}
	}
	cancel()

	// Give the cancellation time to propagate to the downstream pull.
	time.Sleep(500 * time.Millisecond)
	if sent := chunksSent.Load(); sent >= 5 {
		t.Fatalf("downstream produced all %d chunks despite disconnect", sent)
	}

	// The stream was settled when it opened: one debit, one event.
	var user models.User
	if errFind := conn.Where("user_id = ?", "u1").Take(&user).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if user.RequestLimit != 4 {
		t.Fatalf("expected one debit for the stream, got limit %d", user.RequestLimit)
	}
}
