// Package routes binds all the application routes to the mux.
package routes

import (
	"github.com/campusops/batchline/internal/api/health"
	"github.com/campusops/batchline/internal/api/jobs"
	"github.com/campusops/batchline/internal/api/mux"
	"github.com/campusops/batchline/pkg/web"
)

// Routes constructs an add value which provides the implementation of
// RouteAdder for specifying what routes to bind to this instance.
func Routes() add {
	return add{}
}

type add struct{}

// Add implements the RouteAdder interface.
func (add) Add(app *web.App, cfg mux.Config) {
	health.Routes(app, health.Config{
		Build: cfg.Build,
		Log:   cfg.Log,
		DB:    cfg.DB,
	})

	jobs.Routes(app, jobs.Config{
		Log:       cfg.Log,
		Service:   cfg.Jobs,
		Artifacts: cfg.Artifacts,
	})
}
