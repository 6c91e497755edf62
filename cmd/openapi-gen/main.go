// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sigil-dev/freeroute/internal/availability"
	"github.com/sigil-dev/freeroute/internal/failover"
	"github.com/sigil-dev/freeroute/internal/server"
	"github.com/sigil-dev/freeroute/internal/upstream"
	frerr "github.com/sigil-dev/freeroute/pkg/errors"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec builds a proxy server with every route registered and
// returns the OpenAPI document huma derives from it.
func generateSpec() ([]byte, error) {
	tracker, err := availability.New(availability.DefaultErrorThreshold)
	if err != nil {
		return nil, frerr.Errorf(frerr.CodeCLISetupFailure, "creating tracker: %w", err)
	}

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, server.Deps{
		Tracker:    tracker,
		Controller: failover.New(tracker),
		Forwarder:  stubForwarder{},
	})
	if err != nil {
		return nil, frerr.Errorf(frerr.CodeCLISetupFailure, "creating server: %w", err)
	}
	defer srv.Close() //nolint:errcheck // Close never fails

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

// stubForwarder satisfies server.Forwarder. It is never called.
type stubForwarder struct{}

func (stubForwarder) Forward(context.Context, string, []byte) (*upstream.Response, error) {
	return nil, frerr.New(frerr.CodeUpstreamRequestFailure, "spec generation does not forward")
}
