package grants

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/apperrors"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/capability"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/space"
)

type cacheKey struct {
	userID  string
	spaceID string
}

type cacheEntry struct {
	set       Set
	level     space.ApprovalLevel
	expiresAt time.Time
}

// Resolver answers "can user X do Y in space Z" from current role and grant
// state. It is safe for concurrent use.
type Resolver struct {
	grants *Store
	roles  *space.Store
	log    *logrus.Entry

	mu       sync.Mutex
	cache    *lru.Cache[cacheKey, cacheEntry]
	cacheTTL time.Duration
	bySpace  map[string]map[cacheKey]struct{}

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCache enables the resolution cache. Entries expire after ttl and are
// purged whenever a role or grant write touches their space, so the cache
// never outlives an authorization change.
func WithCache(size int, ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if size <= 0 || ttl <= 0 {
			return
		}
		cache, err := lru.NewWithEvict[cacheKey, cacheEntry](size, func(key cacheKey, _ cacheEntry) {
			if keys, ok := r.bySpace[key.spaceID]; ok {
				delete(keys, key)
				if len(keys) == 0 {
					delete(r.bySpace, key.spaceID)
				}
			}
		})
		if err != nil {
			return
		}
		r.cache = cache
		r.cacheTTL = ttl
		r.bySpace = make(map[string]map[cacheKey]struct{})
	}
}

// WithCacheMetrics reports cache hits and misses to the given counters.
// Only meaningful together with WithCache.
func WithCacheMetrics(hits, misses prometheus.Counter) ResolverOption {
	return func(r *Resolver) {
		r.cacheHits = hits
		r.cacheMisses = misses
	}
}

// NewResolver creates a resolver over the given stores. Callers that enable
// the cache must register the resolver as the stores' invalidator.
func NewResolver(grantStore *Store, roleStore *space.Store, log *logrus.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		grants: grantStore,
		roles:  roleStore,
		log:    log.WithField("component", "grants.resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InvalidateSpace drops every cached resolution for the space. Implements
// space.Invalidator.
func (r *Resolver) InvalidateSpace(spaceID string) {
	if r.cache == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.bySpace[spaceID] {
		r.cache.Remove(key)
	}
}

// Resolve computes the user's effective capability set in the space:
// (role capabilities ∪ custom permissions) minus revoked permissions, or
// the universal set when the grant carries the wildcard. A user without a
// grant resolves to the empty set.
func (r *Resolver) Resolve(ctx context.Context, userID, spaceID string) (Set, error) {
	set, _, err := r.resolve(ctx, userID, spaceID)
	return set, err
}

// Check reports whether the user holds the capability in the space. The
// decision carries a reason suitable for the audit trail.
func (r *Resolver) Check(ctx context.Context, userID, spaceID string, code capability.Code) (Decision, error) {
	set, _, err := r.resolve(ctx, userID, spaceID)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Code: code}
	switch {
	case set.Universal():
		d.Allowed = true
		d.Reason = "wildcard grant"
	case set.Contains(code):
		d.Allowed = true
		d.Reason = "granted"
	case set.Len() == 0:
		d.Reason = "no capabilities in space"
	default:
		d.Reason = fmt.Sprintf("missing capability %s", code)
	}
	return d, nil
}

// Allowed is a convenience wrapper around Check for callers that only need
// the boolean.
func (r *Resolver) Allowed(ctx context.Context, userID, spaceID string, code capability.Code) (bool, error) {
	d, err := r.Check(ctx, userID, spaceID, code)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// SpacesForUser returns the space IDs the user holds a grant in.
func (r *Resolver) SpacesForUser(ctx context.Context, userID string) ([]string, error) {
	return r.grants.ListSpacesForUser(ctx, userID)
}

// ApprovalLevel returns the approval authority the user carries in the
// space: the level of their role, or CRITICAL for a wildcard grant.
func (r *Resolver) ApprovalLevel(ctx context.Context, userID, spaceID string) (space.ApprovalLevel, error) {
	_, level, err := r.resolve(ctx, userID, spaceID)
	return level, err
}

func (r *Resolver) resolve(ctx context.Context, userID, spaceID string) (Set, space.ApprovalLevel, error) {
	key := cacheKey{userID: userID, spaceID: spaceID}

	if r.cache != nil {
		r.mu.Lock()
		if entry, ok := r.cache.Get(key); ok && entry.expiresAt.After(time.Now()) {
			r.mu.Unlock()
			if r.cacheHits != nil {
				r.cacheHits.Inc()
			}
			return entry.set, entry.level, nil
		}
		r.mu.Unlock()
		if r.cacheMisses != nil {
			r.cacheMisses.Inc()
		}
	}

	set, level, err := r.resolveUncached(ctx, userID, spaceID)
	if err != nil {
		return Set{}, space.ApprovalNone, err
	}

	if r.cache != nil {
		r.mu.Lock()
		r.cache.Add(key, cacheEntry{set: set, level: level, expiresAt: time.Now().Add(r.cacheTTL)})
		if r.bySpace[spaceID] == nil {
			r.bySpace[spaceID] = make(map[cacheKey]struct{})
		}
		r.bySpace[spaceID][key] = struct{}{}
		r.mu.Unlock()
	}

	return set, level, nil
}

func (r *Resolver) resolveUncached(ctx context.Context, userID, spaceID string) (Set, space.ApprovalLevel, error) {
	grant, err := r.grants.Get(ctx, userID, spaceID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			// No membership: empty set, no authority.
			return NewSet(), space.ApprovalNone, nil
		}
		return Set{}, space.ApprovalNone, err
	}

	if grant.HasWildcard() {
		return UniversalSet(), space.ApprovalCritical, nil
	}

	level := space.ApprovalNone
	codes := make(map[capability.Code]struct{})

	if grant.RoleID != nil {
		role, err := r.roles.GetRole(ctx, *grant.RoleID)
		if err != nil {
			// A deleted role leaves the grant with custom permissions only.
			if !apperrors.Is(err, apperrors.KindNotFound) {
				return Set{}, space.ApprovalNone, err
			}
		} else {
			level = role.ApprovalLevel
			for _, c := range role.Capabilities {
				codes[c] = struct{}{}
			}
		}
	}

	for _, raw := range grant.CustomPermissions {
		code, err := capability.ParseCode(raw)
		if err != nil {
			// Stores validate on write; tolerate and skip anything older.
			continue
		}
		codes[code] = struct{}{}
	}

	for _, raw := range grant.RevokedPermissions {
		delete(codes, capability.Code(raw))
	}

	set := Set{codes: codes}
	return set, level, nil
}
