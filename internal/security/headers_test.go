package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

var noContent = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestHeadersSetsHardeningHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	Headers{Enable: true}.Middleware(noContent).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/create-order", nil))

	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "no-referrer", rr.Header().Get("Referrer-Policy"))
	require.Empty(t, rr.Header().Get("Strict-Transport-Security"))
}

func TestHeadersHSTSOnlyOverHTTPS(t *testing.T) {
	h := Headers{Enable: true, EnableHSTS: true, HSTSMaxAge: 600, HSTSIncludeSubdomains: true}

	cases := []struct {
		name string
		req  func() *http.Request
		want string
	}{
		{"tls", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "https://api.example.com/health", nil)
			r.TLS = &tls.ConnectionState{}
			return r
		}, "max-age=600; includeSubDomains"},
		{"forwarded", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/health", nil)
			r.Header.Set("X-Forwarded-Proto", "HTTPS")
			return r
		}, "max-age=600; includeSubDomains"},
		{"plain", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/health", nil)
		}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.Middleware(noContent).ServeHTTP(rr, tc.req())
			require.Equal(t, tc.want, rr.Header().Get("Strict-Transport-Security"))
		})
	}
}

func TestHeadersDisabled(t *testing.T) {
	rr := httptest.NewRecorder()
	Headers{EnableHSTS: true}.Middleware(noContent).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Empty(t, rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func preflight(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodOptions, "/create-order", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	return req
}

func TestCORSAllowsListedOriginOnly(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"})(noContent)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, preflight("https://app.example.com"))
	require.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, preflight("https://malicious.example"))
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardWithoutCredentials(t *testing.T) {
	handler := CORS(nil)(noContent)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://anything.example")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Credentials"))
}
