// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// droppedHeaders are transport-framing headers that must not be copied from
// the upstream response. Content-Length is recomputed from the body.
var droppedHeaders = map[string]struct{}{
	"Transfer-Encoding": {},
	"Connection":        {},
	"Content-Encoding":  {},
	"Content-Length":    {},
	"Keep-Alive":        {},
	"Upgrade":           {},
}

// errorBody mirrors OpenAI's error envelope so SDK clients can parse it.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// copyHeaders copies src into dst minus the dropped headers.
func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if _, drop := droppedHeaders[http.CanonicalHeaderKey(k)]; drop {
			continue
		}
		dst[k] = append([]string(nil), vs...)
	}
}

// writeRaw relays an upstream status, headers and body.
func writeRaw(w http.ResponseWriter, status int, header http.Header, body []byte) {
	copyHeaders(w.Header(), header)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Debug("writing proxied response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, errType, msg string) {
	body, err := json.Marshal(errorBody{Error: errorDetail{Message: msg, Type: errType, Code: status}})
	if err != nil {
		http.Error(w, `{"error":{"message":"encoding error response"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Debug("writing error response", "error", err)
	}
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not_found_error", "no route for "+r.Method+" "+r.URL.Path)
}
