package common

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newIdem(t *testing.T) (Idem, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Idem{R: client, TTL: time.Minute}, mr
}

func post(h http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestIdemRejectsReplay(t *testing.T) {
	idem, _ := newIdem(t)
	var calls atomic.Int32
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	require.Equal(t, http.StatusOK, post(h, "/create-order", "k1").Code)
	rr := post(h, "/create-order", "k1")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "IDEMPOTENT_REPLAY")
	require.Equal(t, int32(1), calls.Load())

	// same key on another route is independent
	require.Equal(t, http.StatusOK, post(h, "/create-payment-intent", "k1").Code)
}

func TestIdemReleasesKeyOnServerError(t *testing.T) {
	idem, _ := newIdem(t)
	var calls atomic.Int32
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			JSONError(w, http.StatusBadGateway, "PAYMENT_PROVIDER_ERROR", "payment provider request failed", nil)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	require.Equal(t, http.StatusBadGateway, post(h, "/create-order", "retry").Code)
	require.Equal(t, http.StatusOK, post(h, "/create-order", "retry").Code)
	require.Equal(t, int32(2), calls.Load())
}

func TestIdemPassesThroughWithoutHeader(t *testing.T) {
	idem, mr := newIdem(t)
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	require.Equal(t, http.StatusOK, post(h, "/create-order", "").Code)
	require.Equal(t, http.StatusOK, post(h, "/create-order", "").Code)
	require.Empty(t, mr.Keys())
}

func TestIdemStoreFailure(t *testing.T) {
	idem, mr := newIdem(t)
	mr.Close()
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	require.Equal(t, http.StatusInternalServerError, post(h, "/create-order", "k").Code)
}
