package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{
		SensorURL: srv.URL,
		FireURL:   srv.URL + "/",
		AuthURL:   srv.URL,
		Timeout:   2 * time.Second,
	}, testLogger())
	return c, srv
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSensorReadings(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload_pms", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		writeJSON(w, http.StatusOK, map[string]float64{"pm1_0": 3, "pm2_5": 12.5, "pm10": 20})
	})
	mux.HandleFunc("/upload_dht", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]float64{"temperature": 24.1, "humidity": 55})
	})
	c, _ := newTestClient(t, mux)

	pm, err := c.PMS(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PMReading{PM1_0: 3, PM2_5: 12.5, PM10: 20}, pm)

	dht, err := c.DHT(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DHTReading{Temperature: 24.1, Humidity: 55}, dht)
}

func TestLatestFireLog(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/latest_fire_log", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"detected_at":   "2024-05-01 10:00:00",
			"fire_detected": true,
			"video_name":    "fire_0501.mp4",
		})
	})
	c, srv := newTestClient(t, mux)

	log, err := c.LatestFireLog(context.Background())
	require.NoError(t, err)
	assert.True(t, log.FireDetected)
	assert.Equal(t, "2024-05-01 10:00:00", log.DetectedAt)
	assert.Equal(t, srv.URL+"/uploaded_videos/fire_0501.mp4", c.VideoURL(log.VideoName))
	assert.Empty(t, c.VideoURL(""))
}

func TestStatusError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload_pms", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no reading yet"})
	})
	c, _ := newTestClient(t, mux)

	_, err := c.PMS(context.Background())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "no reading yet", se.Message)
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := New(Config{SensorURL: srv.URL, Timeout: time.Second}, testLogger())

	_, err := c.DHT(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/upload_dht", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{
		SensorURL: srv.URL,
		Breaker:   BreakerConfig{MaxFailures: 2, Timeout: time.Minute},
	}, testLogger())

	for i := 0; i < 2; i++ {
		_, err := c.DHT(context.Background())
		var se *StatusError
		require.ErrorAs(t, err, &se)
	}

	_, err := c.DHT(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState("sensor"))
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState("fire"))
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload_dht", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	c, _ := newTestClient(t, mux)

	for i := 0; i < 5; i++ {
		_, err := c.DHT(context.Background())
		var se *StatusError
		require.ErrorAs(t, err, &se)
	}
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState("sensor"))
}

func TestLogin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if body["username"] == "alice" && body["password"] == "secret1" {
			writeJSON(w, http.StatusOK, map[string]any{"status": 20001, "token": "tok-123", "uid": 42})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": 40001, "message": "wrong password"})
	})
	c, _ := newTestClient(t, mux)

	res, err := c.Login(context.Background(), "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, LoginResult{Token: "tok-123", UID: "42"}, res)

	_, err = c.Login(context.Background(), "alice", "nope")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 40001, apiErr.Status)
	assert.Equal(t, "wrong password", apiErr.Error())
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestRegister(t *testing.T) {
	var got map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got["username"] == "taken" {
			writeJSON(w, http.StatusOK, map[string]any{"status": 40002, "message": "username taken"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": 20001})
	})
	c, _ := newTestClient(t, mux)

	require.NoError(t, c.Register(context.Background(), "bob", "hunter22", "bob@example.com"))
	assert.Equal(t, map[string]string{"username": "bob", "password": "hunter22", "email": "bob@example.com"}, got)

	err := c.Register(context.Background(), "taken", "hunter22", "x@example.com")
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestUserDetails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/user/42", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": 20001,
			"data":   map[string]string{"username": "alice", "email": "alice@example.com"},
		})
	})
	c, _ := newTestClient(t, mux)

	details, err := c.UserDetails(context.Background(), "tok-123", "42")
	require.NoError(t, err)
	assert.Equal(t, UserDetails{Username: "alice", Email: "alice@example.com"}, details)

	_, err = c.UserDetails(context.Background(), "bad", "42")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, "invalid token", se.Message)
}

func TestMalformedReply(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/latest_fire_log", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>oops</html>")
	})
	c, _ := newTestClient(t, mux)

	_, err := c.LatestFireLog(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode fire reply")
}

func TestCancelledContext(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload_pms", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, PMReading{})
	})
	c, _ := newTestClient(t, mux)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.PMS(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFlexString(t *testing.T) {
	tests := []struct {
		in   string
		want flexString
	}{
		{`42`, "42"},
		{`"42"`, "42"},
		{`null`, ""},
		{`4.5`, "4.5"},
	}
	for _, tt := range tests {
		var f flexString
		require.NoError(t, json.Unmarshal([]byte(tt.in), &f), tt.in)
		assert.Equal(t, tt.want, f, tt.in)
	}
}
