// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	frerr "github.com/sigil-dev/freeroute/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// New / Errorf
// ---------------------------------------------------------------------------

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := frerr.New(
		frerr.CodeUpstreamRequestFailure,
		"upstream unreachable",
		frerr.FieldModel("meta-llama/llama-3.3-70b-instruct:free"),
		frerr.Field("status", 502),
	)

	require.Error(t, err)
	assert.Equal(t, frerr.CodeUpstreamRequestFailure, frerr.CodeOf(err))
	assert.True(t, frerr.HasCode(err, frerr.CodeUpstreamRequestFailure))
	assert.Contains(t, err.Error(), "upstream unreachable")

	fields := frerr.FieldsOf(err)
	assert.Equal(t, "meta-llama/llama-3.3-70b-instruct:free", fields["model"])
	assert.Equal(t, 502, fields["status"])
}

func TestErrorfFormatsAndWraps(t *testing.T) {
	inner := stderrors.New("connection refused")
	err := frerr.Errorf(frerr.CodeCatalogFetchFailure, "listing %s: %w", "models", inner)

	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, frerr.CodeCatalogFetchFailure, frerr.CodeOf(err))
	assert.Contains(t, err.Error(), "listing models: connection refused")
}

// ---------------------------------------------------------------------------
// Wrap / Wrapf
// ---------------------------------------------------------------------------

func TestWrapPreservesChainAndFields(t *testing.T) {
	root := stderrors.New("EOF")
	err := frerr.Wrap(root, frerr.CodeUpstreamResponseInvalid, "decoding completion",
		frerr.FieldModel("a/one:free"), frerr.FieldPath("/v1/chat/completions"))

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.Equal(t, frerr.CodeUpstreamResponseInvalid, frerr.CodeOf(err))
	assert.Equal(t, "a/one:free", frerr.FieldsOf(err)["model"])
	assert.Equal(t, "/v1/chat/completions", frerr.FieldsOf(err)["path"])
	assert.Contains(t, err.Error(), "decoding completion")
	assert.Contains(t, err.Error(), "EOF")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, frerr.Wrap(nil, frerr.CodeServerInternalFailure, "nothing"))
	assert.NoError(t, frerr.Wrapf(nil, frerr.CodeServerInternalFailure, "nothing %d", 1))
}

func TestWrapfFormats(t *testing.T) {
	root := stderrors.New("denied")
	err := frerr.Wrapf(root, frerr.CodeSecretStoreFailure, "storing secret %s/%s", "freeroute", "key")
	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "storing secret freeroute/key")
}

func TestFieldsWithEmptyKeyAreIgnored(t *testing.T) {
	err := frerr.New(frerr.CodeServerInternalFailure, "boom", frerr.Field("", "dropped"), frerr.Field("kept", 1))
	fields := frerr.FieldsOf(err)
	assert.NotContains(t, fields, "")
	assert.Equal(t, 1, fields["kept"])
}

// ---------------------------------------------------------------------------
// CodeOf / FieldsOf
// ---------------------------------------------------------------------------

func TestCodeOf(t *testing.T) {
	assert.Equal(t, frerr.Code(""), frerr.CodeOf(nil))
	assert.Equal(t, frerr.Code(""), frerr.CodeOf(stderrors.New("plain")))
	assert.Nil(t, frerr.FieldsOf(nil))
	assert.Nil(t, frerr.FieldsOf(stderrors.New("plain")))
}

func TestCodeOfThroughStdlibWrapping(t *testing.T) {
	coded := frerr.New(frerr.CodeFailoverNoModel, "empty pool")
	err := fmt.Errorf("request 7: %w", coded)
	assert.Equal(t, frerr.CodeFailoverNoModel, frerr.CodeOf(err))
}

func TestNestedWrapInnermostCodePersists(t *testing.T) {
	root := stderrors.New("dial tcp: refused")
	l1 := frerr.Wrap(root, frerr.CodeUpstreamRequestFailure, "forwarding")
	l2 := frerr.Wrap(l1, frerr.CodeCLISetupFailure, "serving")

	assert.Equal(t, frerr.CodeUpstreamRequestFailure, frerr.CodeOf(l2))
	assert.ErrorIs(t, l2, root)
}

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

func TestClassificationAndStatusMapping(t *testing.T) {
	tests := []struct {
		code   frerr.Code
		status int
		check  func(error) bool
	}{
		{frerr.CodeFailoverNoModel, http.StatusServiceUnavailable, func(error) bool { return true }},
		{frerr.CodeCatalogFilterEmpty, http.StatusServiceUnavailable, func(error) bool { return true }},
		{frerr.CodeSecretNotFound, http.StatusNotFound, frerr.IsNotFound},
		{frerr.CodeConfigValidateInvalidValue, http.StatusBadRequest, frerr.IsInvalidInput},
		{frerr.CodeConfigParseInvalidFormat, http.StatusBadRequest, frerr.IsInvalidInput},
		{frerr.CodeSecretInvalidInput, http.StatusBadRequest, frerr.IsInvalidInput},
		{frerr.CodeUpstreamRequestInvalid, http.StatusBadRequest, frerr.IsInvalidInput},
		{frerr.CodeServerRequestInvalid, http.StatusBadRequest, frerr.IsInvalidInput},
		{frerr.CodeServerAuthUnauthorized, http.StatusUnauthorized, frerr.IsUnauthorized},
		{frerr.CodeUpstreamRequestFailure, http.StatusBadGateway, frerr.IsUpstreamFailure},
		{frerr.CodeCatalogFetchFailure, http.StatusInternalServerError, func(err error) bool { return !frerr.IsUpstreamFailure(err) }},
		{frerr.CodeFailoverCallCancelled, http.StatusInternalServerError, func(err error) bool { return !frerr.IsInvalidInput(err) }},
		{frerr.CodeServerInternalFailure, http.StatusInternalServerError, func(err error) bool { return !frerr.IsNotFound(err) }},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := frerr.New(tt.code, "boom")
			assert.Equal(t, tt.status, frerr.HTTPStatus(err))
			assert.True(t, tt.check(err))
		})
	}
}

func TestClassificationOnNilAndPlainErrors(t *testing.T) {
	for _, err := range []error{nil, stderrors.New("plain")} {
		assert.False(t, frerr.IsNotFound(err))
		assert.False(t, frerr.IsInvalidInput(err))
		assert.False(t, frerr.IsUnauthorized(err))
		assert.False(t, frerr.IsUpstreamFailure(err))
		assert.False(t, frerr.HasCode(err, frerr.CodeServerInternalFailure))
		assert.Equal(t, http.StatusInternalServerError, frerr.HTTPStatus(err))
	}
}

// ---------------------------------------------------------------------------
// Join
// ---------------------------------------------------------------------------

func TestJoinCombinesErrors(t *testing.T) {
	a := stderrors.New("first")
	b := stderrors.New("second")
	joined := frerr.Join(a, b)

	require.Error(t, joined)
	assert.ErrorIs(t, joined, a)
	assert.ErrorIs(t, joined, b)
	assert.Equal(t, frerr.CodeServerInternalFailure, frerr.CodeOf(joined))
}
