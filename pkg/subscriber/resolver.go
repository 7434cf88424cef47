// Package subscriber resolves trigger recipients into stored subscribers.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/novu-co/novu-sub003/pkg/cache"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
)

const (
	DefaultDedupTTL = 100 * time.Second
	DefaultBackoff  = 300 * time.Millisecond
)

// ErrSubscriberResolutionPending means another resolver is still creating the subscriber.
// Callers treat it as transient.
var ErrSubscriberResolutionPending = errors.New("subscriber creation is in flight")

type Options struct {
	DedupTTL time.Duration
	Backoff  time.Duration
}

// Resolver creates or updates subscribers from trigger payloads.
//
// Concurrent creates of one (environment id, subscriber id) are collapsed with a marker held in a
// process local set and in the shared cache. The marker only narrows the race; the repository's
// unique key decides the winner, and a losing create falls back to an update.
type Resolver struct {
	repo     persistence.SubscriberRepository
	cache    cache.Cache
	validate *validator.Validate
	dedupTTL time.Duration
	backoff  time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewResolver(repo persistence.SubscriberRepository, c cache.Cache, opts Options, logger *slog.Logger) *Resolver {
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = DefaultDedupTTL
	}

	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}

	return &Resolver{
		repo:     repo,
		cache:    c,
		validate: validator.New(),
		dedupTTL: opts.DedupTTL,
		backoff:  opts.Backoff,
		logger:   logger.With("module", "subscriber_resolver"),
		inFlight: make(map[string]struct{}),
	}
}

// Resolve returns the subscriber for the payload, creating it when it does not exist yet.
// Profile fields in the payload are merged into an existing subscriber.
func (r *Resolver) Resolve(ctx context.Context, environmentID, organizationID string, payload models.SubscriberPayload) (*models.Subscriber, error) {
	err := r.validate.Struct(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid subscriber payload: %w", err)
	}

	return r.resolve(ctx, environmentID, organizationID, payload, true)
}

func (r *Resolver) resolve(ctx context.Context, environmentID, organizationID string, payload models.SubscriberPayload, canRetry bool) (*models.Subscriber, error) {
	existing, err := r.find(ctx, environmentID, payload.SubscriberID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return r.merge(ctx, existing, payload)
	}

	key := markerKey(environmentID, payload.SubscriberID)

	if !r.acquire(ctx, key) {
		if !canRetry {
			existing, err = r.find(ctx, environmentID, payload.SubscriberID)
			if err != nil {
				return nil, err
			}

			if existing == nil {
				return nil, persistence.NewSubscriberError("Resolve", environmentID, payload.SubscriberID, ErrSubscriberResolutionPending)
			}

			return r.merge(ctx, existing, payload)
		}

		r.logger.DebugContext(ctx, "subscriber creation in flight, backing off",
			"environment_id", environmentID,
			"subscriber_id", payload.SubscriberID,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.backoff):
		}

		return r.resolve(ctx, environmentID, organizationID, payload, false)
	}
	defer r.release(key)

	subscriber, err := r.create(ctx, environmentID, organizationID, payload)
	if err != nil {
		r.clearMarker(ctx, key)

		return nil, err
	}

	return subscriber, nil
}

// Identify creates or updates the subscriber without the in-flight check.
func (r *Resolver) Identify(ctx context.Context, environmentID, organizationID string, payload models.SubscriberPayload) (*models.Subscriber, error) {
	err := r.validate.Struct(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid subscriber payload: %w", err)
	}

	existing, err := r.find(ctx, environmentID, payload.SubscriberID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return r.merge(ctx, existing, payload)
	}

	return r.create(ctx, environmentID, organizationID, payload)
}

func (r *Resolver) create(ctx context.Context, environmentID, organizationID string, payload models.SubscriberPayload) (*models.Subscriber, error) {
	subscriber := models.NewSubscriberFromPayload(environmentID, organizationID, payload)

	err := r.repo.Create(ctx, subscriber)
	if err == nil {
		r.logger.InfoContext(ctx, "subscriber created",
			"environment_id", environmentID,
			"subscriber_id", payload.SubscriberID,
		)

		return subscriber, nil
	}

	if !persistence.IsSubscriberAlreadyExists(err) {
		return nil, fmt.Errorf("failed to create subscriber: %w", err)
	}

	existing, err := r.find(ctx, environmentID, payload.SubscriberID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		return nil, persistence.NewSubscriberError("Create", environmentID, payload.SubscriberID, persistence.ErrSubscriberNotFound)
	}

	return r.merge(ctx, existing, payload)
}

func (r *Resolver) merge(ctx context.Context, existing *models.Subscriber, payload models.SubscriberPayload) (*models.Subscriber, error) {
	if !existing.Apply(payload) {
		return existing, nil
	}

	err := r.repo.Update(ctx, existing)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscriber: %w", err)
	}

	return existing, nil
}

func (r *Resolver) find(ctx context.Context, environmentID, subscriberID string) (*models.Subscriber, error) {
	subscriber, err := r.repo.FindBySubscriberID(ctx, environmentID, subscriberID)
	if err != nil {
		if persistence.IsSubscriberNotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to find subscriber: %w", err)
	}

	return subscriber, nil
}

// acquire reports whether this call may create the subscriber. A cache failure lets the create
// proceed.
func (r *Resolver) acquire(ctx context.Context, key string) bool {
	r.mu.Lock()
	if _, ok := r.inFlight[key]; ok {
		r.mu.Unlock()

		return false
	}

	r.inFlight[key] = struct{}{}
	r.mu.Unlock()

	ok, err := r.cache.SetNX(ctx, key, "1", r.dedupTTL)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to set subscriber dedup marker", "key", key, "error", err)

		return true
	}

	if !ok {
		r.release(key)

		return false
	}

	return true
}

// release clears the local marker. The shared marker of a successful create expires on its own.
func (r *Resolver) release(key string) {
	r.mu.Lock()
	delete(r.inFlight, key)
	r.mu.Unlock()
}

// clearMarker drops the shared marker after a failed create so the next resolve can retry at once.
func (r *Resolver) clearMarker(ctx context.Context, key string) {
	err := r.cache.Delete(context.WithoutCancel(ctx), key)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to clear subscriber dedup marker", "key", key, "error", err)
	}
}

func markerKey(environmentID, subscriberID string) string {
	return "subscriber:creating:" + environmentID + ":" + subscriberID
}
