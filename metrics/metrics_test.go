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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-spin/chili/database"
	"github.com/cloud-spin/chili/lifecycle"
)

func TestMiddlewareShouldCountRequestsByRoute(t *testing.T) {
	m := New()
	router := mux.NewRouter()
	router.Use(m.Middleware)
	router.HandleFunc("/api/info", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for i := 0; i < 3; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/info", nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/api/info", "418")))
}

func TestObserveStateShouldSetGauge(t *testing.T) {
	m := New()

	m.ObserveState(lifecycle.Draining)

	assert.Equal(t, float64(lifecycle.Draining), testutil.ToFloat64(m.state))
}

func TestHandlerShouldExposeRegisteredCollectors(t *testing.T) {
	m := New()
	m.ObserveState(lifecycle.Serving)

	h, err := database.Open(database.Config{
		Dialect: database.DialectSQLite,
		Name:    filepath.Join(t.TempDir(), "metrics.db"),
	})
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, m.RegisterDB(h.SQLDB(), "chili"))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "chili_lifecycle_state 1"))
	assert.Contains(t, body, `go_sql_max_open_connections{db_name="chili"} 5`)
	assert.Contains(t, body, "go_goroutines")
}
