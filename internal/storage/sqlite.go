package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shohag/hookrelay/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	return migrate(ctx, s.db)
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Endpoints ---

const endpointColumns = `id, name, path, method, enabled, response_status, response_data, auth_enabled, auth_type, auth_token, created_at, updated_at`

func (s *SQLiteStorage) CreateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	data := ep.ResponseData
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO endpoints (`+endpointColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.Name, ep.Path, ep.Method, boolInt(ep.Enabled), ep.ResponseStatus, string(data),
		boolInt(ep.AuthEnabled), string(ep.AuthType), ep.AuthToken, ep.CreatedAt, ep.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicatePath
	}
	return err
}

func (s *SQLiteStorage) scanEndpoint(row interface{ Scan(...interface{}) error }) (*models.Endpoint, error) {
	var ep models.Endpoint
	var data, authType string
	var enabled, authEnabled int
	err := row.Scan(&ep.ID, &ep.Name, &ep.Path, &ep.Method, &enabled, &ep.ResponseStatus, &data,
		&authEnabled, &authType, &ep.AuthToken, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ep.ResponseData = json.RawMessage(data)
	ep.Enabled = enabled == 1
	ep.AuthEnabled = authEnabled == 1
	ep.AuthType = models.AuthType(authType)
	return &ep, nil
}

func (s *SQLiteStorage) GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE id = ?`, id)
	ep, err := s.scanEndpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ep, err
}

func (s *SQLiteStorage) GetEndpointByPath(ctx context.Context, path string) (*models.Endpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE path = ?`, path)
	ep, err := s.scanEndpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ep, err
}

func (s *SQLiteStorage) ListEndpoints(ctx context.Context) ([]models.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+endpointColumns+` FROM endpoints ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []models.Endpoint
	for rows.Next() {
		ep, err := s.scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *ep)
	}
	return endpoints, rows.Err()
}

func (s *SQLiteStorage) UpdateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	ep.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET name = ?, path = ?, method = ?, enabled = ?, response_status = ?, response_data = ?,
		 auth_enabled = ?, auth_type = ?, auth_token = ?, updated_at = ? WHERE id = ?`,
		ep.Name, ep.Path, ep.Method, boolInt(ep.Enabled), ep.ResponseStatus, string(ep.ResponseData),
		boolInt(ep.AuthEnabled), string(ep.AuthType), ep.AuthToken, ep.UpdatedAt, ep.ID,
	)
	if isUniqueViolation(err) {
		return ErrDuplicatePath
	}
	return err
}

func (s *SQLiteStorage) DeleteEndpoint(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) ToggleEndpoint(ctx context.Context, id string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE endpoints SET enabled = ?, updated_at = ? WHERE id = ?`,
		boolInt(enabled), time.Now().UTC(), id)
	return err
}

// --- Captured requests ---

func (s *SQLiteStorage) CreateRequest(ctx context.Context, req *models.CapturedRequest) error {
	headers, err := json.Marshal(req.Headers)
	if err != nil {
		return fmt.Errorf("encoding headers: %w", err)
	}
	query, err := json.Marshal(req.Query)
	if err != nil {
		return fmt.Errorf("encoding query: %w", err)
	}
	body := req.Body
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO requests (id, endpoint_id, method, headers, body, query, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.EndpointID, req.Method, string(headers), string(body), string(query), req.Timestamp,
	)
	return err
}

func (s *SQLiteStorage) scanRequest(row interface{ Scan(...interface{}) error }) (*models.CapturedRequest, error) {
	var req models.CapturedRequest
	var headers, body, query string
	if err := row.Scan(&req.ID, &req.EndpointID, &req.Method, &headers, &body, &query, &req.Timestamp); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(headers), &req.Headers); err != nil {
		return nil, fmt.Errorf("decoding headers of %s: %w", req.ID, err)
	}
	if err := json.Unmarshal([]byte(query), &req.Query); err != nil {
		return nil, fmt.Errorf("decoding query of %s: %w", req.ID, err)
	}
	req.Body = json.RawMessage(body)
	return &req, nil
}

func (s *SQLiteStorage) GetRequest(ctx context.Context, id string) (*models.CapturedRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, endpoint_id, method, headers, body, query, timestamp FROM requests WHERE id = ?`, id)
	req, err := s.scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return req, err
}

func (s *SQLiteStorage) ListRequests(ctx context.Context, endpointID string, limit, offset int) ([]models.CapturedRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, endpoint_id, method, headers, body, query, timestamp FROM requests
		 WHERE endpoint_id = ? ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`,
		endpointID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []models.CapturedRequest
	for rows.Next() {
		req, err := s.scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

func (s *SQLiteStorage) CountRequests(ctx context.Context, endpointID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests WHERE endpoint_id = ?`, endpointID).Scan(&n)
	return n, err
}

// --- Forward attempts ---

func (s *SQLiteStorage) CreateForwardAttempt(ctx context.Context, a *models.ForwardAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO forward_attempts (id, request_id, target_url, method, via, status_code, latency_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RequestID, a.TargetURL, a.Method, string(a.Via), a.StatusCode, a.LatencyMs, a.Error, a.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) ListForwardAttempts(ctx context.Context, requestID string) ([]models.ForwardAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, target_url, method, via, status_code, latency_ms, error, created_at
		 FROM forward_attempts WHERE request_id = ? ORDER BY created_at DESC, id DESC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []models.ForwardAttempt
	for rows.Next() {
		var a models.ForwardAttempt
		var via string
		if err := rows.Scan(&a.ID, &a.RequestID, &a.TargetURL, &a.Method, &via, &a.StatusCode, &a.LatencyMs, &a.Error, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Via = models.ForwardVia(via)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM endpoints`, &stats.TotalEndpoints},
		{`SELECT COUNT(*) FROM endpoints WHERE enabled = 1`, &stats.EnabledEndpoints},
		{`SELECT COUNT(*) FROM requests`, &stats.TotalRequests},
		{`SELECT COUNT(*) FROM forward_attempts`, &stats.TotalForwards},
		{`SELECT COUNT(*) FROM forward_attempts WHERE error != '' OR status_code < 200 OR status_code >= 300`, &stats.FailedForwards},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return stats, nil
}
