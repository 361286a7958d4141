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

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	// Registers the OpenAPI document read by the Swagger UI handler.
	_ "github.com/cloud-spin/chili/docs"
)

const (
	// DocsPath is the root of the API documentation.
	DocsPath = "/api-docs"

	docsIndex = DocsPath + "/index.html"
	docsJSON  = DocsPath + "/doc.json"
)

// registerDocs mounts the Swagger UI and the OpenAPI document under DocsPath.
func registerDocs(r *mux.Router) {
	redirect := func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, docsIndex, http.StatusMovedPermanently)
	}
	r.Path(DocsPath).Methods(http.MethodGet).HandlerFunc(redirect)
	r.Path(DocsPath + "/").Methods(http.MethodGet).HandlerFunc(redirect)

	r.PathPrefix(DocsPath + "/").Methods(http.MethodGet).Handler(httpSwagger.Handler(
		httpSwagger.URL(docsJSON),
	))
}
