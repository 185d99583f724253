package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/droptally/droptally/pkg/utils"
)

// DefaultRefreshTimeout bounds each call to the refresh service.
const DefaultRefreshTimeout = 30 * time.Second

// Refresher calls the downstream refresh service that recomputes an entity's
// aggregates from the system of record.
type Refresher struct {
	base   string
	client *http.Client
	logger *zap.Logger
}

// NewRefresher builds a Refresher for the service at baseURL.
func NewRefresher(baseURL string, timeout time.Duration, logger *zap.Logger) *Refresher {
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &Refresher{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Refresh requests a full recompute for one entity. Anything but a 2xx
// response within the timeout is a failure.
func (r *Refresher) Refresh(ctx context.Context, entityID string) error {
	payload, err := json.Marshal(map[string]string{"entity_id": entityID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/update", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", entityID, err)
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("refresh %s: http %d", entityID, resp.StatusCode)
	}

	r.logger.Debug("Refreshed entity", zap.String("entity", entityID))
	return nil
}
