package security

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func limitedEcho(max int64, captured *string) http.Handler {
	return BodyLimit{Max: max}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		*captured = string(data)
		w.WriteHeader(http.StatusOK)
	}))
}

func TestBodyLimitReplaysExactBytes(t *testing.T) {
	var captured string
	payload := `{"event":"payment.captured"}` + "\n"
	rr := httptest.NewRecorder()
	limitedEcho(64, &captured).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/payment/razorpay", strings.NewReader(payload)))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, payload, captured)
}

func TestBodyLimitAcceptsBodyAtLimit(t *testing.T) {
	var captured string
	rr := httptest.NewRecorder()
	limitedEcho(5, &captured).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/create-order", strings.NewReader("12345")))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "12345", captured)
}

func TestBodyLimitRejectsOversized(t *testing.T) {
	cases := map[string]func(*http.Request){
		"streamed body":   func(r *http.Request) { r.ContentLength = -1 },
		"declared length": func(r *http.Request) { r.ContentLength = 100 },
		"truthful length": func(*http.Request) {},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			var captured string
			req := httptest.NewRequest(http.MethodPost, "/create-payment-intent", strings.NewReader(`{"amount":1999}`))
			mutate(req)
			rr := httptest.NewRecorder()
			limitedEcho(5, &captured).ServeHTTP(rr, req)

			require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
			require.Empty(t, captured)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			require.Equal(t, "PAYLOAD_TOO_LARGE", body["code"])
		})
	}
}

func TestBodyLimitDisabledPassesThrough(t *testing.T) {
	var captured string
	rr := httptest.NewRecorder()
	limitedEcho(0, &captured).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/verify-payment", strings.NewReader("anything goes")))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "anything goes", captured)
}
