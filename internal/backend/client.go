// Package backend talks to the three HTTP services of the monitoring system:
// the environmental sensor API, the fire detection log API and the account
// service.
//
// Each service sits behind its own circuit breaker. When a host stops
// answering, the breaker opens after a few consecutive failures and the
// polling loops fail fast until it half-opens again. Nothing is retried
// here: the next scheduled poll is the retry.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Default circuit breaker settings
const (
	defaultBreakerMaxFailures uint32        = 3
	defaultBreakerTimeout     time.Duration = 15 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
	defaultRequestTimeout     time.Duration = 5 * time.Second
	maxBodySize                             = 1 << 20
)

// BreakerConfig configures the per-service circuit breakers
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before half-opening
	Timeout time.Duration `yaml:"timeout"`
	// Interval clears the failure counts of a closed circuit
	Interval time.Duration `yaml:"interval"`
}

// Config holds the service base URLs and request settings
type Config struct {
	SensorURL string        `yaml:"sensor_url"`
	FireURL   string        `yaml:"fire_url"`
	AuthURL   string        `yaml:"auth_url"`
	Timeout   time.Duration `yaml:"timeout"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

// Client is a client for the sensor, fire log and account services
type Client struct {
	http   *http.Client
	logger *slog.Logger

	sensor service
	fire   service
	auth   service
}

// service is one base URL with its breaker
type service struct {
	name    string
	baseURL string
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// New creates a client. Zero breaker and timeout settings use defaults.
func New(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	c := &Client{
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
	c.sensor = newService("sensor", cfg.SensorURL, cfg.Breaker, logger)
	c.fire = newService("fire", cfg.FireURL, cfg.Breaker, logger)
	c.auth = newService("auth", cfg.AuthURL, cfg.Breaker, logger)
	return c
}

func newService(name, baseURL string, cfg BreakerConfig, logger *slog.Logger) service {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "backend:" + name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: isSuccessful,
	})

	return service{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		breaker: cb,
	}
}

// isSuccessful keeps a reachable host from tripping its breaker. Client side
// errors and cancelled requests say nothing about the host's health.
func isSuccessful(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code < http.StatusInternalServerError
	}
	return false
}

// PMS fetches the latest particulate matter reading
func (c *Client) PMS(ctx context.Context) (PMReading, error) {
	var r PMReading
	err := c.getJSON(ctx, c.sensor, "/upload_pms", "", &r)
	return r, err
}

// DHT fetches the latest temperature and humidity reading
func (c *Client) DHT(ctx context.Context) (DHTReading, error) {
	var r DHTReading
	err := c.getJSON(ctx, c.sensor, "/upload_dht", "", &r)
	return r, err
}

// LatestFireLog fetches the newest fire detection log entry
func (c *Client) LatestFireLog(ctx context.Context) (FireLog, error) {
	var l FireLog
	err := c.getJSON(ctx, c.fire, "/latest_fire_log", "", &l)
	return l, err
}

// VideoURL returns the address of a recorded clip, or "" for an empty name
func (c *Client) VideoURL(name string) string {
	if name == "" {
		return ""
	}
	return c.fire.baseURL + "/uploaded_videos/" + url.PathEscape(name)
}

// Login exchanges a username and password for a token and uid
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	body := map[string]string{"username": username, "password": password}

	var reply authReply
	if err := c.postJSON(ctx, c.auth, "/login", body, &reply); err != nil {
		return LoginResult{}, err
	}
	if reply.Status != StatusOK {
		return LoginResult{}, &APIError{Status: reply.Status, Message: reply.Message}
	}
	if reply.Token == "" || reply.UID == "" {
		return LoginResult{}, &APIError{Status: reply.Status, Message: "login reply without credentials"}
	}

	return LoginResult{Token: reply.Token, UID: string(reply.UID)}, nil
}

// Register creates an account
func (c *Client) Register(ctx context.Context, username, password, email string) error {
	body := map[string]string{"username": username, "password": password, "email": email}

	var reply authReply
	if err := c.postJSON(ctx, c.auth, "/register", body, &reply); err != nil {
		return err
	}
	if reply.Status != StatusOK {
		return &APIError{Status: reply.Status, Message: reply.Message}
	}
	return nil
}

// UserDetails fetches the profile of a user with a bearer token
func (c *Client) UserDetails(ctx context.Context, token, uid string) (UserDetails, error) {
	var reply authReply
	if err := c.getJSON(ctx, c.auth, "/api/user/"+url.PathEscape(uid), token, &reply); err != nil {
		return UserDetails{}, err
	}
	if reply.Status != StatusOK || reply.Data == nil {
		return UserDetails{}, &APIError{Status: reply.Status, Message: reply.Message}
	}
	return *reply.Data, nil
}

func (c *Client) getJSON(ctx context.Context, svc service, path, token string, out any) error {
	return c.do(ctx, svc, http.MethodGet, path, token, nil, out)
}

func (c *Client) postJSON(ctx context.Context, svc service, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.do(ctx, svc, http.MethodPost, path, "", payload, out)
}

// do runs one request through the service breaker and decodes the JSON reply
func (c *Client) do(ctx context.Context, svc service, method, path, token string, payload []byte, out any) error {
	body, err := svc.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, svc, method, path, token, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &unavailableError{service: svc.name, err: err}
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s reply from %s: %w", svc.name, path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, svc service, method, path, token string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, svc.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", svc.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &unavailableError{service: svc.name, err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &unavailableError{service: svc.name, err: err}
	}

	c.logger.Debug("backend request",
		"service", svc.name,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Service: svc.name, Code: resp.StatusCode, Message: replyMessage(body)}
	}
	return body, nil
}

// replyMessage pulls the message field out of an error reply, if any
func replyMessage(body []byte) string {
	var r struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return ""
	}
	return r.Message
}

// BreakerState returns the breaker state of the named service for status displays
func (c *Client) BreakerState(name string) gobreaker.State {
	switch name {
	case c.sensor.name:
		return c.sensor.breaker.State()
	case c.fire.name:
		return c.fire.breaker.State()
	default:
		return c.auth.breaker.State()
	}
}
