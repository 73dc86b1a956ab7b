package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"trafficcounter/internal/config"
	"trafficcounter/internal/dto"
)

var rtdbScopes = []string{
	"https://www.googleapis.com/auth/firebase.database",
	"https://www.googleapis.com/auth/userinfo.email",
}

// RTDBStore writes records to a Firebase Realtime Database over REST.
type RTDBStore struct {
	baseURL string
	client  *http.Client
}

// NewRTDBStore authenticates with the service account in cfg.CredentialsFile.
// Without a credentials file requests go out unauthenticated.
func NewRTDBStore(ctx context.Context, cfg config.RTDBConfig) (*RTDBStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote.rtdb.url is required")
	}

	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, rtdbScopes...)
		if err != nil {
			return nil, fmt.Errorf("failed to parse credentials: %w", err)
		}
		client = oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, creds.TokenSource))
		client.Timeout = cfg.Timeout
	}

	return NewRTDBStoreWithClient(cfg.URL, client), nil
}

// NewRTDBStoreWithClient uses client as is.
func NewRTDBStoreWithClient(baseURL string, client *http.Client) *RTDBStore {
	return &RTDBStore{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *RTDBStore) Name() string { return config.BackendRTDB }

func (s *RTDBStore) PutDetection(ctx context.Context, r dto.DetectionRecord) error {
	return s.put(ctx, DetectionsPath, r.Key(), r)
}

func (s *RTDBStore) PutPlate(ctx context.Context, r dto.PlateRecord) error {
	return s.put(ctx, PlatesPath, r.Key(), r)
}

func (s *RTDBStore) PutSummary(ctx context.Context, r dto.SummaryRecord) error {
	return s.put(ctx, SummariesPath, r.Key(), r)
}

// Ping reads the shallow root.
func (s *RTDBStore) Ping(ctx context.Context) error {
	_, err := s.do(ctx, http.MethodGet, s.baseURL+"/.json?shallow=true", nil)
	return err
}

// Prune deletes detections and plates whose timestamp is before the cutoff.
func (s *RTDBStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, path := range []string{DetectionsPath, PlatesPath} {
		n, err := s.prunePath(ctx, path, before)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *RTDBStore) prunePath(ctx context.Context, path string, before time.Time) (int64, error) {
	q := url.Values{}
	q.Set("orderBy", `"timestamp"`)
	q.Set("endAt", fmt.Sprintf("%q", dto.FormatTimestamp(before)))

	body, err := s.do(ctx, http.MethodGet, fmt.Sprintf("%s/%s.json?%s", s.baseURL, path, q.Encode()), nil)
	if err != nil {
		return 0, err
	}

	var old map[string]json.RawMessage
	if err := json.Unmarshal(body, &old); err != nil {
		return 0, fmt.Errorf("failed to decode %s query: %w", path, err)
	}
	if len(old) == 0 {
		return 0, nil
	}

	// null values delete children in one multi-path update
	deletes := make(map[string]any, len(old))
	for key := range old {
		deletes[key] = nil
	}
	payload, err := json.Marshal(deletes)
	if err != nil {
		return 0, err
	}
	if _, err := s.do(ctx, http.MethodPatch, fmt.Sprintf("%s/%s.json", s.baseURL, path), payload); err != nil {
		return 0, err
	}
	return int64(len(old)), nil
}

func (s *RTDBStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *RTDBStore) put(ctx context.Context, path, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", path, key, err)
	}
	endpoint := fmt.Sprintf("%s/%s/%s.json", s.baseURL, path, url.PathEscape(key))
	_, err = s.do(ctx, http.MethodPut, endpoint, payload)
	return err
}

func (s *RTDBStore) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
