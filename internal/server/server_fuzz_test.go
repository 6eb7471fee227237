package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/loykin/healthsup/internal/process"
)

// FuzzIsSafeName tests the name validation function with various inputs
func FuzzIsSafeName(f *testing.F) {
	f.Add("valid-name_123")
	f.Add("")
	f.Add("..")
	f.Add("../etc/passwd")
	f.Add("name/with/slash")
	f.Add("name\\with\\backslash")
	f.Add("unicode한글name")
	f.Add("name\x00null")

	f.Fuzz(func(t *testing.T, name string) {
		if len(name) > 200 {
			t.Skip("name too long")
		}
		result := isSafeName(name)
		if name == "" && result {
			t.Error("empty name should not be safe")
		}
		if strings.Contains(name, "..") && result {
			t.Errorf("name with .. should not be safe: %q", name)
		}
		if strings.ContainsAny(name, "/\\") && result {
			t.Errorf("name with path separators should not be safe: %q", name)
		}
		spec := process.Spec{Name: name, Command: []string{"true"}}
		if (spec.Validate() == nil) != result {
			t.Errorf("config and URL disagree on %q", name)
		}
	})
}

// FuzzStatusPath drives arbitrary names through the router; it must answer
// 200, 400 or 404 and never panic.
func FuzzStatusPath(f *testing.F) {
	f.Add("cleaning")
	f.Add("unknown")
	f.Add("a..b")
	f.Add("%2e%2e")
	f.Add("x y")

	gin.SetMode(gin.TestMode)
	h := NewRouter(newFakeBackend(), "/api", false).Handler()

	f.Fuzz(func(t *testing.T, name string) {
		if len(name) > 200 {
			t.Skip("name too long")
		}
		req := httptest.NewRequest(http.MethodGet, "/api/status/"+url.PathEscape(name), nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		switch rec.Code {
		case http.StatusOK, http.StatusBadRequest, http.StatusNotFound, http.StatusMovedPermanently, http.StatusTemporaryRedirect:
		default:
			t.Fatalf("unexpected status %d for %q", rec.Code, name)
		}
	})
}
