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

package chili

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cloud-spin/chili/lifecycle"
	"github.com/cloud-spin/chili/logging"
)

const (
	// DefaultPort holds the default port the server will listen on.
	DefaultPort = 8080

	// DefaultShutdownTimeout holds the timeout to shutdown the server.
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultReadTimeout holds the default read timeout.
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout holds the default write timeout.
	DefaultWriteTimeout = 15 * time.Second

	// DefaultLivenessEndpoint holds the default liveness probe endpoint.
	DefaultLivenessEndpoint = "/healthz"

	// DefaultReadinessEndpoint holds the default readiness probe endpoint.
	DefaultReadinessEndpoint = "/readyz"

	// stopSignal signals the Stop method was called and the server should stop.
	stopSignal = syscall.Signal(0x99)
)

// DefaultSignal holds the termination signal that starts the drain sequence.
var DefaultSignal os.Signal = syscall.SIGINT

// Configs holds server specific configs.
// Port holds the server port.
// ShutdownTimeout holds the timeout to shutdown the server once the grace period elapsed.
// ReadTimeout holds the read timeout.
// WriteTimeout holds the write timeout.
// LivenessEndpoint holds the liveness probe endpoint.
// ReadinessEndpoint holds the readiness probe endpoint.
// Signal holds the termination signal.
type Configs struct {
	Port              int
	ShutdownTimeout   time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	LivenessEndpoint  string
	ReadinessEndpoint string
	Signal            os.Signal
}

// Server represents a HTTP server driven by a lifecycle controller.
type Server interface {
	Start() error
	Stop() error
	GetHTTPServer() *http.Server
	RegisterOnShutdown(f func())
}

// ServerImpl implements a HTTP Server.
type ServerImpl struct {
	Configs           *Configs
	Router            *mux.Router
	HTTPServer        *http.Server
	controller        *lifecycle.Controller
	logger            *zap.Logger
	stop              chan os.Signal
	stopError         chan error
	livenessEndpoint  string
	readinessEndpoint string
}

// ProbeResponse is the body of the liveness and readiness endpoints.
type ProbeResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewConfigs initializes a new instance of Configs with default values.
func NewConfigs() *Configs {
	return &Configs{
		Port:              DefaultPort,
		ShutdownTimeout:   DefaultShutdownTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		LivenessEndpoint:  DefaultLivenessEndpoint,
		ReadinessEndpoint: DefaultReadinessEndpoint,
		Signal:            DefaultSignal,
	}
}

// New initializes a new instance of Server. The probe endpoints are registered
// on router, and the HTTP server shutdown is registered as a drain hook of controller.
func New(configs *Configs, router *mux.Router, controller *lifecycle.Controller, logger *zap.Logger) Server {
	server := &ServerImpl{
		Configs:           configs,
		Router:            router,
		HTTPServer:        newHTTPServer(configs, router),
		controller:        controller,
		logger:            logging.OrNop(logger),
		livenessEndpoint:  configs.LivenessEndpoint,
		readinessEndpoint: configs.ReadinessEndpoint,
	}
	if server.livenessEndpoint == "" {
		server.livenessEndpoint = DefaultLivenessEndpoint
	}
	if server.readinessEndpoint == "" {
		server.readinessEndpoint = DefaultReadinessEndpoint
	}

	router.Path(server.livenessEndpoint).Name(server.livenessEndpoint).Methods("GET", "HEAD").HandlerFunc(server.handleFuncLiveness)
	router.Path(server.readinessEndpoint).Name(server.readinessEndpoint).Methods("GET", "HEAD").HandlerFunc(server.handleFuncReadiness)

	controller.OnDrain(server.shutdownHTTPServer)

	return server
}

// RegisterOnShutdown registers a function to call on Shutdown. It delegates the calls to the standard http.Server package.
func (s *ServerImpl) RegisterOnShutdown(f func()) {
	s.HTTPServer.RegisterOnShutdown(f)
}

// Start binds the listener, marks the controller as serving and blocks until
// the termination signal (or Stop) runs the drain sequence. Bind and serve
// errors are returned without draining.
func (s *ServerImpl) Start() error {
	listener, err := net.Listen("tcp", s.HTTPServer.Addr)
	if err != nil {
		return err
	}

	s.stop = make(chan os.Signal, 1)
	s.stopError = make(chan error)
	signal.Notify(s.stop, s.signal(), stopSignal)
	defer signal.Stop(s.stop)

	s.controller.MarkServing()
	s.logger.Info("Server listening", zap.String("addr", listener.Addr().String()))

	serveError := make(chan error, 1)
	go func() {
		if err := s.HTTPServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			serveError <- err
		}
	}()

	var sig os.Signal
	select {
	case sig = <-s.stop:
	case err := <-serveError:
		return err
	}

	s.controller.OnSignal()
	err = s.controller.DrainAndExit(context.Background())

	// If Stop() was called, the drain error is returned by Stop() instead.
	if sig == stopSignal {
		s.stopError <- err
		return nil
	}

	return err
}

// Stop runs the same drain sequence as the termination signal and returns any
// error detected during teardown. The controller's exit function is still invoked.
func (s *ServerImpl) Stop() error {
	if s.stop != nil {
		s.stop <- stopSignal
		return <-s.stopError
	}
	return nil
}

// GetHTTPServer returns the HTTP server instance,
func (s *ServerImpl) GetHTTPServer() *http.Server {
	return s.HTTPServer
}

func (s *ServerImpl) signal() os.Signal {
	if s.Configs.Signal != nil {
		return s.Configs.Signal
	}
	return DefaultSignal
}

func (s *ServerImpl) shutdownHTTPServer(ctx context.Context) error {
	if s.Configs.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Configs.ShutdownTimeout)
		defer cancel()
	}

	s.logger.Info("Shutting down HTTP server")
	if err := s.HTTPServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}

func newHTTPServer(configs *Configs, router *mux.Router) *http.Server {
	port := DefaultPort
	if configs.Port != 0 {
		port = configs.Port
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		WriteTimeout: configs.WriteTimeout,
		ReadTimeout:  configs.ReadTimeout,
	}
	return server
}

func (s *ServerImpl) handleFuncLiveness(w http.ResponseWriter, r *http.Request) {
	writeProbe(w, s.controller.CheckLive(r.Context()))
}

func (s *ServerImpl) handleFuncReadiness(w http.ResponseWriter, r *http.Request) {
	writeProbe(w, s.controller.CheckReady())
}

func writeProbe(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(ProbeResponse{Status: "error", Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ProbeResponse{Status: "ok"})
}
