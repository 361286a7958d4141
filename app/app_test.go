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

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-spin/chili/config"
	"github.com/cloud-spin/chili/database"
	"github.com/cloud-spin/chili/lifecycle"
)

func testConfig(t *testing.T, port int) *config.Config {
	t.Helper()

	dir := t.TempDir()
	public := filepath.Join(dir, "public")
	require.NoError(t, os.MkdirAll(public, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(public, "index.html"), []byte("<h1>chili</h1>"), 0600))

	return &config.Config{
		Server: config.ServerConfig{
			Port:            port,
			PublicDir:       public,
			Revision:        config.DefaultRevision,
			GracePeriod:     100 * time.Millisecond,
			ShutdownTimeout: time.Second,
		},
		Database: config.DatabaseConfig{
			Dialect:        "sqlite",
			Name:           filepath.Join(dir, "chili.db"),
			PoolMax:        5,
			AcquireTimeout: 30 * time.Second,
			IdleTimeout:    10 * time.Second,
		},
		UI: config.UIConfig{Color: "#34577c", Message: "hello"},
	}
}

type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (r *exitRecorder) exit(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
}

func (r *exitRecorder) calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.codes...)
}

func serve(a *App, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestNewShouldWireEveryRoute(t *testing.T) {
	a, err := New(testConfig(t, 22001), nil, WithLifecycleOptions(lifecycle.WithExitFunc(func(int) {})))
	require.NoError(t, err)
	defer a.DB.Close()

	assert.Equal(t, http.StatusOK, serve(a, "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(a, "/readyz").Code)
	assert.Equal(t, http.StatusOK, serve(a, "/api/info").Code)
	assert.Equal(t, http.StatusMovedPermanently, serve(a, "/api-docs").Code)
	assert.Equal(t, http.StatusOK, serve(a, "/metrics").Code)

	w := serve(a, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<h1>chili</h1>")
}

func TestNewShouldEchoUIConfigurationInInfo(t *testing.T) {
	a, err := New(testConfig(t, 22002), nil)
	require.NoError(t, err)
	defer a.DB.Close()

	var body map[string]string
	require.NoError(t, json.Unmarshal(serve(a, "/api/info").Body.Bytes(), &body))

	assert.Equal(t, "#34577c", body["color"])
	assert.Equal(t, "hello", body["message"])
	assert.Equal(t, "", body["logo"])
	assert.Equal(t, "0.1.0", body["version"])
	assert.Equal(t, "unknown", body["revision"])
}

func TestNewShouldFailOnUnsupportedDialect(t *testing.T) {
	cfg := testConfig(t, 22003)
	cfg.Database.Dialect = "oracle"

	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestRunShouldServeThenDrainAndReleasePool(t *testing.T) {
	cfg := testConfig(t, 22004)
	exits := &exitRecorder{}
	a, err := New(cfg, nil, WithLifecycleOptions(lifecycle.WithExitFunc(exits.exit)))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- a.Run()
	}()

	url := fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	stopped := make(chan error, 1)
	go func() {
		stopped <- a.Server.Stop()
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/readyz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusServiceUnavailable
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, <-stopped)
	require.NoError(t, <-done)

	assert.Equal(t, []int{lifecycle.ExitCodeClean}, exits.calls())
	assert.Equal(t, lifecycle.Stopped, a.Controller.State())
	assert.ErrorIs(t, a.DB.Authenticate(context.Background()), database.ErrClosed)
}
