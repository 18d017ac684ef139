package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "rankbot/pkg/logx"
)

func TestHealthAndStats(t *testing.T) {
	t.Parallel()

	s := New(Config{}, func() any { return map[string]int{"cycles": 3} }, nil, logx.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 3, body["cycles"])

	resp, err = http.Get(srv.URL + "/debug/pprof/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthReportsFailure(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, func(context.Context) error { return errors.New("storage closed") }, logx.Nop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "storage closed")
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()

	h := New(Config{Token: "s3cret", Pprof: true}, nil, nil, logx.Nop()).Handler()

	tests := []struct {
		name string
		path string
		auth string
		want int
	}{
		{name: "missing", path: "/stats", want: http.StatusUnauthorized},
		{name: "wrong bearer", path: "/stats", auth: "Bearer nope", want: http.StatusUnauthorized},
		{name: "bearer", path: "/stats", auth: "Bearer s3cret", want: http.StatusOK},
		{name: "query", path: "/stats?token=s3cret", want: http.StatusOK},
		{name: "wrong query", path: "/stats?token=x", want: http.StatusUnauthorized},
		{name: "pprof", path: "/debug/pprof/", auth: "Bearer s3cret", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, nil, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", s.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()

	err := New(Config{Addr: "0.0.0.0:0"}, nil, nil, logx.Nop()).Run(context.Background())
	require.Error(t, err)
	require.False(t, IsLoopbackAddr(":8080"))
	require.True(t, IsLoopbackAddr("localhost:1"))
	require.True(t, IsLoopbackAddr("[::1]:1"))
}
