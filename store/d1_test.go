package store

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = zerolog.Nop()

func newTestD1(t *testing.T, handler http.HandlerFunc) *D1Executor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	e, err := NewD1Executor(D1Config{
		AccountID:  "acc",
		DatabaseID: "db",
		APIToken:   "token",
		BaseURL:    srv.URL,
		Logger:     &quiet,
	})
	require.NoError(t, err)
	return e
}

func TestD1Query(t *testing.T) {
	e := newTestD1(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/accounts/acc/d1/database/db/query", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		var body d1Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SELECT artist, play_count FROM tracks LIMIT ?", body.SQL)
		assert.Equal(t, []any{float64(10)}, body.Params)

		w.Write([]byte(`{"success":true,"errors":[],"result":[{"success":true,"results":[
			{"artist":"Nujabes","play_count":12,"ratio":0.5,"genre":null}
		]}]}`))
	})

	rows, err := e.Prepare("SELECT artist, play_count FROM tracks LIMIT ?").Bind(10).All(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Nujabes", rows[0]["artist"])
	assert.Equal(t, int64(12), rows[0]["play_count"])
	assert.Equal(t, 0.5, rows[0]["ratio"])
	assert.Nil(t, rows[0]["genre"])
}

func TestD1EmptyResult(t *testing.T) {
	e := newTestD1(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"errors":[],"result":[{"success":true,"results":[]}]}`))
	})
	rows, err := e.Prepare("SELECT 1").All(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	_, ok, err := e.Prepare("SELECT 1").First(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestD1ErrorMessageSurfaces(t *testing.T) {
	e := newTestD1(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"errors":[{"code":7500,"message":"no such table: trackz"}],"result":[]}`))
	})
	_, err := e.Prepare("SELECT * FROM trackz").All(context.Background())
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "no such table: trackz", err.Error())
	assert.False(t, errors.Is(err, ErrD1Unavailable))
}

func TestD1BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	e := newTestD1(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	for i := 0; i < 5; i++ {
		_, err := e.Prepare("SELECT 1").All(context.Background())
		require.ErrorIs(t, err, ErrD1Unavailable)
	}
	_, err := e.Prepare("SELECT 1").All(context.Background())
	require.ErrorIs(t, err, ErrD1Unavailable)
	var qe *QueryError
	assert.True(t, errors.As(err, &qe))
	assert.Equal(t, int32(5), calls.Load(), "open breaker must not reach the API")
}

func TestD1QueryErrorsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	e := newTestD1(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"success":false,"errors":[{"code":7500,"message":"syntax error"}]}`))
	})
	for i := 0; i < 8; i++ {
		_, err := e.Prepare("SELEC").All(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, int32(8), calls.Load())
}

func TestD1NeedsCredentials(t *testing.T) {
	_, err := NewD1Executor(D1Config{AccountID: "acc"})
	assert.Error(t, err)
}
