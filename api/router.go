// Copyright (c) 2018 cloud-spin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cloud-spin/chili/logging"
	"github.com/cloud-spin/chili/metrics"
)

const (
	// InfoPath serves host and build information.
	InfoPath = "/api/info"

	// MetricsPath serves Prometheus metrics.
	MetricsPath = "/metrics"
)

// Options holds the collaborators of the routes registered by Register.
type Options struct {
	Info      InfoSource
	PublicDir string
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Register mounts the middleware stack, the info, documentation and metrics
// routes, and finally the static file fallback on r. Routes registered on r
// before the call keep precedence over the static fallback.
func Register(r *mux.Router, opts Options) {
	logger := logging.OrNop(opts.Logger)

	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(logger), middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
		r.Path(MetricsPath).Methods(http.MethodGet).Handler(opts.Metrics.Handler())
	}

	r.Path(InfoPath).Methods(http.MethodGet).Handler(NewInfoHandler(opts.Info, logger))
	registerDocs(r)

	if opts.PublicDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(opts.PublicDir)))
	}
}
