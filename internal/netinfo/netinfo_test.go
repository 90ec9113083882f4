package netinfo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestFromRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.Header.Set("User-Agent", "PlatefulApp/2.1 (iOS)")
	c.Request.RemoteAddr = "203.0.113.9:52100"

	info := New().FromRequest(c)
	if info.UserAgent != "PlatefulApp/2.1 (iOS)" {
		t.Errorf("Unexpected user agent: %q", info.UserAgent)
	}
	if info.IPAddress == "" {
		t.Error("Expected client IP to be set")
	}
}

func TestPublicIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ip": "198.51.100.7"}`))
	}))
	defer srv.Close()

	c := New(WithLookupURL(srv.URL))
	if ip := c.PublicIP(context.Background()); ip != "198.51.100.7" {
		t.Errorf("Expected 198.51.100.7, got %q", ip)
	}
}

func TestPublicIP_FailSoft(t *testing.T) {
	// Server returns an error status
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(WithLookupURL(srv.URL))
	if ip := c.PublicIP(context.Background()); ip != "" {
		t.Errorf("Expected empty IP on upstream error, got %q", ip)
	}

	// Unreachable endpoint
	c = New(WithLookupURL("http://127.0.0.1:1"))
	if ip := c.PublicIP(context.Background()); ip != "" {
		t.Errorf("Expected empty IP on connection failure, got %q", ip)
	}
}
