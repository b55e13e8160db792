package ranker

import (
	"context"
	"strings"
	"time"

	"rank-tracker-service/grid"
	"rank-tracker-service/models"
	"rank-tracker-service/provider"

	"github.com/apex/log"
)

const (
	// LookaheadDepth is how deep the provider's listing is scanned for the
	// business before it is recorded as absent.
	LookaheadDepth = 20

	defaultMaxAttempts = 3
	defaultBackoffBase = 500 * time.Millisecond
)

// SearchClient is the slice of the provider client the executor needs.
type SearchClient interface {
	Search(ctx context.Context, lat, lng float64, keyword string) ([]provider.Listing, error)
}

// Executor resolves the rank of a business at a single grid point for a
// single keyword, absorbing transient provider failures.
type Executor struct {
	provider    SearchClient
	maxAttempts int
	backoffBase time.Duration
}

// NewExecutor creates a new rank query executor
func NewExecutor(p SearchClient) *Executor {
	return &Executor{
		provider:    p,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
	}
}

// NewExecutorWithRetry creates an executor with custom retry parameters.
func NewExecutorWithRetry(p SearchClient, maxAttempts int, backoffBase time.Duration) *Executor {
	return &Executor{
		provider:    p,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
	}
}

// Query searches the provider at the given point and scans the top
// LookaheadDepth listings for the business. Transient provider errors are
// retried with exponential backoff; once retries are exhausted the point is
// recorded as failed (nil rank, Failed set) rather than surfaced as an
// error. Non-transient errors are returned and abort the caller's run.
func (e *Executor) Query(ctx context.Context, point grid.Point, keyword string, identity models.BusinessIdentity) (*models.RankResult, error) {
	result := &models.RankResult{
		Keyword:   keyword,
		GridRow:   point.Row,
		GridCol:   point.Col,
		Latitude:  point.Lat,
		Longitude: point.Lng,
	}

	var listings []provider.Listing
	var err error
	backoff := e.backoffBase
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		listings, err = e.provider.Search(ctx, point.Lat, point.Lng, keyword)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !provider.IsTransient(err) {
			return nil, err
		}
		if attempt == e.maxAttempts {
			log.Warnf("Point (%d,%d) keyword %q: giving up after %d attempts: %v",
				point.Row, point.Col, keyword, e.maxAttempts, err)
			result.Failed = true
			return result, nil
		}
		log.Infof("Point (%d,%d) keyword %q: transient provider error (attempt %d/%d), retrying in %v: %v",
			point.Row, point.Col, keyword, attempt, e.maxAttempts, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}

	if len(listings) > 0 {
		result.TopResultName = listings[0].Name
	}
	for i, listing := range listings {
		if i >= LookaheadDepth {
			break
		}
		if matches(listing, identity) {
			rank := i + 1
			result.Rank = &rank
			break
		}
	}

	return result, nil
}

// matches compares a listing against the business identity, preferring the
// stable place identifier over the display name.
func matches(listing provider.Listing, identity models.BusinessIdentity) bool {
	if identity.PlaceID != "" && listing.PlaceID != "" {
		return listing.PlaceID == identity.PlaceID
	}
	return normalizeName(listing.Name) == normalizeName(identity.Name)
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(name))), " ")
}
