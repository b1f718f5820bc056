package storage

import (
	"context"
	"errors"

	"github.com/shohag/hookrelay/internal/models"
)

// ErrDuplicatePath is returned when an endpoint path is already taken.
var ErrDuplicatePath = errors.New("webhook path already exists")

// Storage is the Endpoint Store and Capture Log. Lookups that find nothing
// return a nil value and a nil error.
type Storage interface {
	// Endpoints
	CreateEndpoint(ctx context.Context, ep *models.Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error)
	GetEndpointByPath(ctx context.Context, path string) (*models.Endpoint, error)
	ListEndpoints(ctx context.Context) ([]models.Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *models.Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	ToggleEndpoint(ctx context.Context, id string, enabled bool) error

	// Captured requests, newest first
	CreateRequest(ctx context.Context, req *models.CapturedRequest) error
	GetRequest(ctx context.Context, id string) (*models.CapturedRequest, error)
	ListRequests(ctx context.Context, endpointID string, limit, offset int) ([]models.CapturedRequest, error)
	CountRequests(ctx context.Context, endpointID string) (int64, error)

	// Forward history
	CreateForwardAttempt(ctx context.Context, a *models.ForwardAttempt) error
	ListForwardAttempts(ctx context.Context, requestID string) ([]models.ForwardAttempt, error)

	// Stats
	GetStats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	TotalEndpoints   int64 `json:"total_endpoints"`
	EnabledEndpoints int64 `json:"enabled_endpoints"`
	TotalRequests    int64 `json:"total_requests"`
	TotalForwards    int64 `json:"total_forwards"`
	FailedForwards   int64 `json:"failed_forwards"`
}
