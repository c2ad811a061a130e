package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

// UnknownActorName is shown when an actor cannot be resolved.
const UnknownActorName = "Unknown"

type userFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type cachedActor struct {
	Name string `json:"name"`
}

// ActorDirectory resolves actor display names for audit trails: cache first,
// then the users table, then UnknownActorName. It never returns an error.
type ActorDirectory struct {
	users   userFinder
	cache   *CacheService
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
}

// NewActorDirectory constructs the directory. cache and metrics may be nil.
func NewActorDirectory(users userFinder, cache *CacheService, metrics *MetricsService, ttl time.Duration, logger *zap.Logger) *ActorDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActorDirectory{users: users, cache: cache, metrics: metrics, ttl: ttl, logger: logger}
}

// DisplayName returns the actor's full name or UnknownActorName.
func (d *ActorDirectory) DisplayName(ctx context.Context, actorID string) string {
	if strings.TrimSpace(actorID) == "" {
		return UnknownActorName
	}
	key := "actor:" + actorID

	var cached cachedActor
	if hit, _ := d.cache.Get(ctx, key, &cached); hit && cached.Name != "" {
		d.metrics.ObserveActorLookup("cache")
		return cached.Name
	}
	if d.users == nil {
		d.metrics.ObserveActorLookup("unknown")
		return UnknownActorName
	}

	user, err := d.users.FindByID(ctx, actorID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			d.logger.Warn("actor lookup failed", zap.String("actor_id", actorID), zap.Error(err))
		}
		d.metrics.ObserveActorLookup("unknown")
		return UnknownActorName
	}
	name := strings.TrimSpace(user.FullName)
	if name == "" {
		d.metrics.ObserveActorLookup("unknown")
		return UnknownActorName
	}
	_ = d.cache.Set(ctx, key, cachedActor{Name: name}, d.ttl)
	d.metrics.ObserveActorLookup("database")
	return name
}
