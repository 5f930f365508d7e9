package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/amirhdaghestani/openai-api/internal/admission"
	"github.com/amirhdaghestani/openai-api/internal/auth"
	"github.com/amirhdaghestani/openai-api/internal/http/middleware"
	"github.com/amirhdaghestani/openai-api/internal/models"
	"github.com/amirhdaghestani/openai-api/internal/provider"
	"github.com/amirhdaghestani/openai-api/internal/quota"
	"github.com/amirhdaghestani/openai-api/internal/security"
	"github.com/amirhdaghestani/openai-api/internal/usage"
)

// seedFineTuneUser creates a user with the fine-tune capability and
// returns their plaintext API key.
func seedFineTuneUser(t *testing.T, conn *gorm.DB, fineTuneLimit int64) string {
	t.Helper()
	apiKey, errGenerate := security.GenerateAPIKey()
	if errGenerate != nil {
		t.Fatalf("generate key: %v", errGenerate)
	}
	permissions := models.DefaultPermissions()
	permissions[models.CapabilityFineTune] = true
	permissionsJSON, errEncode := permissions.JSON()
	if errEncode != nil {
		t.Fatalf("encode permissions: %v", errEncode)
	}
	user := models.User{
		UserID:        "ft1",
		Name:          "Tuner",
		Role:          models.RoleUser,
		APIKeyHash:    security.HashAPIKey(apiKey),
		Permissions:   permissionsJSON,
		FineTuneLimit: fineTuneLimit,
	}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("seed user: %v", errCreate)
	}
	return apiKey
}

func newFineTuneEngine(conn *gorm.DB, downstreamURL string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	verifier := auth.NewVerifier(conn, auth.VerifierConfig{
		JWTSecret:        "access",
		JWTRefreshSecret: "refresh",
	})
	pipeline := admission.NewPipeline(quota.NewLedger(conn), usage.NewRecorder(conn))
	client := provider.NewClient(downstreamURL, "sk-upstream", 5*time.Second)
	fineTunes := NewFineTuneHandler(pipeline, client)

	engine := gin.New()
	v1 := engine.Group("/v1")
	v1.Use(middleware.APIKeyAuth(verifier))
	v1.POST("/fine-tunes", fineTunes.Create)
	return engine
}

func TestFineTuneCreateDebitsAndForwards(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"ft-1","status":"pending"}`))
	}))
	defer downstream.Close()

	conn := openRelayDB(t)
	apiKey := seedFineTuneUser(t, conn, 2)
	engine := newFineTuneEngine(conn, downstream.URL)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/fine-tunes", strings.NewReader(`{"training_file":"file-1"}`))
	request.Header.Set("Authorization", "Bearer "+apiKey)
	engine.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var user models.User
	if errFind := conn.Where("user_id = ?", "ft1").Take(&user).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if user.FineTuneLimit != 1 {
		t.Fatalf("expected fine-tune limit 1 after create, got %d", user.FineTuneLimit)
	}
}

func TestFineTuneCreateReturnsResultWhenRecordFails(t *testing.T) {
	conn := openRelayDB(t)
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Break the event ledger while the job request is in flight so
		// the post-success settle can debit but not record.
		if errDrop := conn.Exec("DROP TABLE usage_events").Error; errDrop != nil {
			t.Errorf("drop usage_events: %v", errDrop)
		}
		w.Write([]byte(`{"id":"ft-2","status":"pending"}`))
	}))
	defer downstream.Close()

	apiKey := seedFineTuneUser(t, conn, 2)
	engine := newFineTuneEngine(conn, downstream.URL)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/fine-tunes", strings.NewReader(`{"training_file":"file-1"}`))
	request.Header.Set("Authorization", "Bearer "+apiKey)
	engine.ServeHTTP(recorder, request)

	// The downstream job was created, so its result must reach the
	// caller even though the usage event could not be written.
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if !strings.Contains(recorder.Body.String(), "ft-2") {
		t.Fatalf("downstream body not forwarded: %s", recorder.Body.String())
	}
	var user models.User
	if errFind := conn.Where("user_id = ?", "ft1").Take(&user).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if user.FineTuneLimit != 1 {
		t.Fatalf("debit must stand, got limit %d", user.FineTuneLimit)
	}
}
