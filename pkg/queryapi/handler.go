// Package queryapi implements the read-only query endpoints for survival
// probability and the abrupt-disconnect score, each backed by a short-TTL
// Redis response cache.
package queryapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ciylabs/cluster-access-control/internal/httpserver"
	"github.com/ciylabs/cluster-access-control/pkg/stats"
	"github.com/ciylabs/cluster-access-control/pkg/survival"
)

const (
	survivalCacheTTL  = 30 * time.Second
	disconnectsCacheTTL = 60 * time.Second
)

// Estimator is the narrow slice of the survival estimator the handler consumes.
type Estimator interface {
	Survival(ctx context.Context, name string, timeRangeMinutes int) (float64, error)
}

// Disconnects is the narrow slice of the statistics store the handler consumes.
type Disconnects interface {
	GetAbruptDisconnectCount(ctx context.Context, name string) (int, error)
	GetRegistrationTime(ctx context.Context, name string) (time.Time, error)
}

// Handler serves the query-only survival/disconnect endpoints.
type Handler struct {
	logger        *slog.Logger
	estimator     Estimator
	disconnects   Disconnects
	survivalCache *floatCache
	disconnCache  *floatCache
	now           func() time.Time
}

// NewHandler creates a Handler. rdb backs both response caches.
func NewHandler(logger *slog.Logger, estimator Estimator, disconnects Disconnects, rdb CacheKV) *Handler {
	return &Handler{
		logger:        logger,
		estimator:     estimator,
		disconnects:   disconnects,
		survivalCache: newFloatCache(rdb, "survival-chance:", survivalCacheTTL),
		disconnCache:  newFloatCache(rdb, "abrupt-disconnects:", disconnectsCacheTTL),
		now:           time.Now,
	}
}

// Routes returns the query HTTP surface as a standalone router, suitable
// for mounting at /api/v1 on its own.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

// Mount registers the query routes directly onto r, so this handler can
// share a mount point with other handlers under the same prefix.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/node_survival_chance/{name}/{minutes}", h.handleSurvivalChance)
	r.Get("/abrupt_disconnects/{name}", h.handleAbruptDisconnects)
}

func (h *Handler) handleSurvivalChance(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	minutesStr := chi.URLParam(r, "minutes")

	minutes, err := strconv.Atoi(minutesStr)
	if err != nil || minutes < 1 || minutes >= 1440 {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_range", "minutes must be in [1, 1439]")
		return
	}

	cacheKey := name + ":" + minutesStr
	if cached, ok := h.survivalCache.get(r.Context(), cacheKey); ok {
		httpserver.Respond(w, http.StatusOK, cached)
		return
	}

	p, err := h.estimator.Survival(r.Context(), name, minutes)
	if err != nil {
		switch {
		case errors.Is(err, stats.ErrNotRegistered):
			httpserver.RespondError(w, http.StatusNotFound, "not_registered", "node not found")
		case errors.Is(err, survival.ErrInvalidRange):
			httpserver.RespondError(w, http.StatusBadRequest, "invalid_range", err.Error())
		case errors.Is(err, survival.ErrDataCorruption):
			h.logger.Error("survival estimate data corruption", "name", name, "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "data_corruption", "check-in data is inconsistent")
		default:
			h.logger.Error("survival estimate failed", "name", name, "error", err)
			httpserver.RespondError(w, http.StatusBadGateway, "transient_backend", "failed to compute survival chance")
		}
		return
	}

	h.survivalCache.set(r.Context(), cacheKey, p)
	httpserver.Respond(w, http.StatusOK, p)
}

func (h *Handler) handleAbruptDisconnects(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if cached, ok := h.disconnCache.get(r.Context(), name); ok {
		httpserver.Respond(w, http.StatusOK, cached)
		return
	}

	score, err := h.abruptDisconnectScore(r.Context(), name)
	if err != nil {
		if errors.Is(err, stats.ErrNotRegistered) {
			httpserver.RespondError(w, http.StatusNotFound, "not_registered", "node not found")
			return
		}
		h.logger.Error("computing abrupt disconnect score", "name", name, "error", err)
		httpserver.RespondError(w, http.StatusBadGateway, "transient_backend", "failed to compute disconnect score")
		return
	}

	h.disconnCache.set(r.Context(), name, score)
	httpserver.Respond(w, http.StatusOK, score)
}

// abruptDisconnectScore scores a node's disconnect reliability: d =
// disconnect count, age = now - registration_time; if d hours >= age, the
// node is considered unreliable (score 0); otherwise 1 - d*3600/age_seconds,
// floored at 0.
func (h *Handler) abruptDisconnectScore(ctx context.Context, name string) (float64, error) {
	count, err := h.disconnects.GetAbruptDisconnectCount(ctx, name)
	if err != nil {
		return 0, err
	}
	if count < 0 {
		return 0, stats.ErrNotRegistered
	}

	regTime, err := h.disconnects.GetRegistrationTime(ctx, name)
	if err != nil {
		return 0, err
	}

	age := h.now().Sub(regTime)
	disconnectHours := time.Duration(count) * time.Hour
	if disconnectHours >= age {
		return 0.0, nil
	}

	ageSeconds := age.Seconds()
	if ageSeconds <= 0 {
		return 0.0, nil
	}

	score := 1 - float64(count)*3600/ageSeconds
	if score < 0 {
		score = 0
	}
	return score, nil
}
