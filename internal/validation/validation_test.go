package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidEmail(t *testing.T) {
	valid := []string{
		"user@example.com",
		"first.last@sub.example.co.uk",
		"user+tag@example.io",
	}
	for _, e := range valid {
		if !IsValidEmail(e) {
			t.Errorf("Expected %q to be valid", e)
		}
	}

	invalid := []string{
		"",
		"not-an-email",
		"@example.com",
		"user@",
		"user@nodot",
		"user @example.com",
		strings.Repeat("a", 315) + "@example.com", // over 320 chars
	}
	for _, e := range invalid {
		if IsValidEmail(e) {
			t.Errorf("Expected %q to be invalid", e)
		}
	}
}

func TestIsValidPhone(t *testing.T) {
	valid := []string{
		"+1 555 123 4567",
		"555-123-4567",
		"+442071234567",
		"(02) 1234567",
	}
	for _, p := range valid {
		if !IsValidPhone(p) {
			t.Errorf("Expected %q to be valid", p)
		}
	}

	invalid := []string{
		"",
		"123",
		"abc-def-ghij",
		"+1 555 123 4567 ext 99999", // too long
	}
	for _, p := range invalid {
		if IsValidPhone(p) {
			t.Errorf("Expected %q to be invalid", p)
		}
	}
}

func TestIsValidURL(t *testing.T) {
	if !IsValidURL("https://example.com/menu") {
		t.Error("Expected https URL to be valid")
	}
	if !IsValidURL("http://example.com") {
		t.Error("Expected http URL to be valid")
	}
	if IsValidURL("javascript:alert(1)") {
		t.Error("Expected javascript scheme to be rejected")
	}
	if IsValidURL("ftp://example.com") {
		t.Error("Expected ftp scheme to be rejected")
	}
	if IsValidURL("not a url") {
		t.Error("Expected garbage to be rejected")
	}
}

func TestCheckPasswordStrength(t *testing.T) {
	tests := []struct {
		password string
		want     PasswordStrength
	}{
		{"short", PasswordWeak},
		{"password123", PasswordWeak},  // common password
		{"LetMeIn", PasswordWeak},      // under 8 chars
		{"aaaaaaaa", PasswordWeak},     // one class
		{"abcd1234", PasswordMedium},   // two classes, short
		{"Abcd1234", PasswordMedium},   // three classes but under 12
		{"Abcdefgh1234", PasswordStrong},
		{"correct-horse-Battery9", PasswordStrong},
	}

	for _, tt := range tests {
		if got := CheckPasswordStrength(tt.password); got != tt.want {
			t.Errorf("CheckPasswordStrength(%q) = %s, want %s", tt.password, got, tt.want)
		}
	}
}

func TestValidate_Combinators(t *testing.T) {
	errs := Validate(
		Required("name", ""),
		ValidEmail("email", "bad-email"),
		ValidPhone("phone", "abc"),
		MaxLength("bio", strings.Repeat("x", 20), 10),
		MinLength("review", "hi", 10),
	)

	if len(errs) != 5 {
		t.Fatalf("Expected 5 errors, got %d: %v", len(errs), errs)
	}
	if errs.Error() != "name: is required" {
		t.Errorf("Unexpected error string: %s", errs.Error())
	}
}

func TestValidate_OptionalFieldsPassWhenEmpty(t *testing.T) {
	errs := Validate(
		ValidEmail("email", ""),
		ValidPhone("phone", ""),
	)
	if len(errs) != 0 {
		t.Errorf("Expected no errors for empty optional fields, got %v", errs)
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(10))
	r.POST("/echo", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too_large"})
			return
		}
		c.JSON(http.StatusOK, body)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/echo", strings.NewReader(`{"key": "a value well over ten bytes"}`))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", w.Code)
	}
}

func TestUserIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/users/:id", UserIDParamMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/users/user-42", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for valid ID, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/users/bad%20id%3B", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed ID, got %d", w.Code)
	}
}
