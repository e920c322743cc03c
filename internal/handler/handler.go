// Package handler exposes the REST and WebSocket surface over the
// orchestration core.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"spectrum/internal/domain"
	"spectrum/internal/domain/repositories"
	"spectrum/internal/httputil"
	"spectrum/internal/media"
	"spectrum/internal/service/dialogue"
	"spectrum/internal/service/introspection"
	"spectrum/internal/service/notify"
	"spectrum/internal/service/tools"
)

// Deps bundles everything the HTTP surface needs.
type Deps struct {
	Core     *dialogue.Core
	Engine   *introspection.Engine
	Store    *repositories.Store
	Registry *tools.Registry
	Invoker  *tools.Invoker
	Hub      *notify.Hub
	Media    *media.Store
	Logger   *slog.Logger
}

// Handler carries the route implementations.
type Handler struct {
	core     *dialogue.Core
	engine   *introspection.Engine
	store    *repositories.Store
	registry *tools.Registry
	invoker  *tools.Invoker
	hub      *notify.Hub
	media    *media.Store
	logger   *slog.Logger
}

// New creates the handler set.
func New(deps Deps) *Handler {
	return &Handler{
		core:     deps.Core,
		engine:   deps.Engine,
		store:    deps.Store,
		registry: deps.Registry,
		invoker:  deps.Invoker,
		hub:      deps.Hub,
		media:    deps.Media,
		logger:   deps.Logger,
	}
}

// handleError converts domain errors to problem+json responses, surfacing
// the error kind as an extension field.
func handleError(w http.ResponseWriter, err error) {
	var he domain.HTTPError
	if errors.As(err, &he) {
		extras := map[string]interface{}{}
		if kind := domain.Kind(err); kind != "" {
			extras["kind"] = kind
		}
		httputil.RespondErrorWithExtras(w, he.StatusCode(), err.Error(), extras)
		return
	}
	httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
}
