package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/classlive/classroom-rtc/internal/middleware"
	"github.com/classlive/classroom-rtc/internal/registry"
)

const testSecret = "test-secret"

func newAPIServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New()
	router := gin.New()
	router.POST("/api/auth/login", Login(testSecret))
	router.GET("/api/rooms", middleware.JWTAuth(testSecret), ListRooms(reg))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, reg
}

func TestLoginIssuesJoinToken(t *testing.T) {
	srv, _ := newAPIServer(t)

	body := `{"username":"u1","displayName":"Alice","role":"teacher"}`
	resp, err := http.Post(srv.URL+"/api/auth/login", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var login LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		t.Fatal(err)
	}
	claims, err := middleware.ParseToken(login.Token, testSecret)
	if err != nil {
		t.Fatalf("issued token should validate: %v", err)
	}
	if claims.UserID != "u1" || claims.Name != "Alice" || claims.Role != "teacher" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLoginDefaults(t *testing.T) {
	srv, _ := newAPIServer(t)

	resp, err := http.Post(srv.URL+"/api/auth/login", "application/json", strings.NewReader(`{"username":"u2"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var login LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		t.Fatal(err)
	}
	claims, err := middleware.ParseToken(login.Token, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Name != "u2" || claims.Role != "student" {
		t.Fatalf("expected defaulted name and role, got %+v", claims)
	}
}

func TestRoomListingRequiresToken(t *testing.T) {
	srv, reg := newAPIServer(t)

	resp, err := http.Get(srv.URL + "/api/rooms")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("listing without a token should be 401, got %d", resp.StatusCode)
	}

	reg.Join("class-7", "alice", "Alice", "teacher", &fakeSession{id: "s1"})

	login, err := http.Post(srv.URL+"/api/auth/login", "application/json", strings.NewReader(`{"username":"ops"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer login.Body.Close()
	var cred LoginResponse
	if err := json.NewDecoder(login.Body).Decode(&cred); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/rooms", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with a valid token, got %d", resp.StatusCode)
	}

	var listing struct {
		Count int                 `json:"count"`
		Rooms []registry.RoomInfo `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatal(err)
	}
	if listing.Count != 1 || len(listing.Rooms) != 1 || listing.Rooms[0].ID != "class-7" {
		t.Fatalf("unexpected listing: %+v", listing)
	}
}
