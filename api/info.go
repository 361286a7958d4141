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
	"encoding/json"
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"
)

// Version is reported by the info endpoint.
const Version = "0.1.0"

// Info is the body of GET /api/info.
type Info struct {
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
	Color    string `json:"color"`
	Logo     string `json:"logo"`
	Runtime  string `json:"runtime"`
	Revision string `json:"revision"`
	Message  string `json:"message"`
}

// InfoSource holds the configured values echoed by the info endpoint.
type InfoSource struct {
	Color    string
	Logo     string
	Message  string
	Revision string
}

// InfoHandler serves host metadata and build information.
type InfoHandler struct {
	source InfoSource
	logger *zap.Logger
}

// NewInfoHandler creates an InfoHandler.
func NewInfoHandler(source InfoSource, logger *zap.Logger) *InfoHandler {
	if source.Revision == "" {
		source.Revision = "unknown"
	}
	return &InfoHandler{source: source, logger: logger}
}

// ServeHTTP handles GET /api/info.
func (h *InfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		h.logger.Warn("Failed to resolve hostname", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, Info{
		Hostname: hostname,
		Version:  Version,
		Color:    h.source.Color,
		Logo:     h.source.Logo,
		Runtime:  runtime.Version(),
		Revision: h.source.Revision,
		Message:  h.source.Message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
