package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/deputados", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json, application/xml" {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"dados":[{"id":204554,"nome":"A"},{"id":204555,"nome":"B"}],"links":[]}`))
	})
	mux.HandleFunc("/deputados/204554", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"dados":{"id":204554,"ultimoStatus":{"data":"2023-02-01"}}}`))
	})
	mux.HandleFunc("/votacoes/1-2/votos", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<xml><dados>
  <voto><tipoVoto>Sim</tipoVoto><deputado_><id>1</id></deputado_></voto>
  <voto><tipoVoto>Não</tipoVoto><deputado_><id>2</id></deputado_></voto>
</dados></xml>`))
	})
	mux.HandleFunc("/unavailable", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/throttled", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/text", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	})
	mux.HandleFunc("/malformed", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"dados": [`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchJSONListingAndDetail(t *testing.T) {
	t.Parallel()

	srv := newUpstream(t)
	f := New(Config{UserAgent: "test-agent", Timeout: time.Second}, nil, zap.NewNop())

	env, err := f.Fetch(context.Background(), srv.URL+"/deputados")
	require.NoError(t, err)
	require.Equal(t, crawler.FormatJSON, env.Format)
	items, err := env.Listing()
	require.NoError(t, err)
	require.Len(t, items, 2)
	id, ok := items[0].Int64("id")
	require.True(t, ok)
	require.Equal(t, int64(204554), id)

	// The same URL must be fetchable again, as retries revisit it.
	_, err = f.Fetch(context.Background(), srv.URL+"/deputados")
	require.NoError(t, err)

	env, err = f.Fetch(context.Background(), srv.URL+"/deputados/204554")
	require.NoError(t, err)
	detail, err := env.Detail()
	require.NoError(t, err)
	require.Equal(t, "2023-02-01", detail.String("ultimoStatus", "data"))
}

func TestFetchConcurrentCallsShareCollector(t *testing.T) {
	t.Parallel()

	srv := newUpstream(t)
	f := New(Config{UserAgent: "test-agent", Timeout: time.Second}, nil, zap.NewNop())

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			env, err := f.Fetch(context.Background(), srv.URL+"/deputados/204554")
			if err != nil {
				return err
			}
			detail, err := env.Detail()
			if err != nil {
				return err
			}
			if got := detail.String("ultimoStatus", "data"); got != "2023-02-01" {
				return errors.New("unexpected marker " + got)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestFetchXMLWrappedListing(t *testing.T) {
	t.Parallel()

	srv := newUpstream(t)
	f := New(Config{}, nil, nil)

	env, err := f.Fetch(context.Background(), srv.URL+"/votacoes/1-2/votos")
	require.NoError(t, err)
	require.Equal(t, crawler.KindWrappedListing, env.Kind)
	items, err := env.Listing()
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "Não", items[1].String("tipoVoto"))
	depID, ok := items[0].Int64("deputado_", "id")
	require.True(t, ok)
	require.Equal(t, int64(1), depID)
}

func TestFetchClassifiesFailures(t *testing.T) {
	t.Parallel()

	srv := newUpstream(t)
	f := New(Config{Timeout: time.Second}, nil, nil)

	cases := []struct {
		path      string
		transient bool
		status    int
	}{
		{path: "/unavailable", transient: true, status: http.StatusServiceUnavailable},
		{path: "/throttled", transient: true, status: http.StatusTooManyRequests},
		{path: "/missing", transient: false, status: http.StatusNotFound},
		{path: "/text", transient: false},
		{path: "/malformed", transient: false},
	}
	for _, tc := range cases {
		_, err := f.Fetch(context.Background(), srv.URL+tc.path)
		require.Error(t, err, tc.path)
		var fe *crawler.FetchError
		require.ErrorAs(t, err, &fe, tc.path)
		require.Equal(t, tc.transient, crawler.IsTransient(err), tc.path)
		require.Equal(t, !tc.transient, crawler.IsFatal(err), tc.path)
		if tc.status != 0 {
			require.Equal(t, tc.status, fe.StatusCode, tc.path)
		}
	}
}

func TestFetchConnectionRefusedIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := New(Config{Timeout: time.Second}, nil, nil)
	_, err := f.Fetch(context.Background(), addr+"/deputados")
	require.True(t, crawler.IsTransient(err), "got %v", err)
}

func TestFetchCanceledContextIsNotClassified(t *testing.T) {
	t.Parallel()

	srv := newUpstream(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(Config{}, nil, nil)
	_, err := f.Fetch(ctx, srv.URL+"/deputados")
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, crawler.IsTransient(err))
	require.False(t, crawler.IsFatal(err))
}

type countingWaiter struct {
	calls atomic.Int64
	err   error
}

func (w *countingWaiter) Wait(context.Context, string) error {
	w.calls.Add(1)
	return w.err
}

func TestFetchWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	srv := newUpstream(t)
	waiter := &countingWaiter{}
	f := New(Config{}, waiter, nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/deputados")
	require.NoError(t, err)
	require.Equal(t, int64(1), waiter.calls.Load())

	waiter.err = context.DeadlineExceeded
	_, err = f.Fetch(context.Background(), srv.URL+"/deputados")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Accept: "application/xml"}, nil, nil)
	var res fetchResult
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &res)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "application/xml", collyReq.Headers.Get("Accept"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"dados":[]}`),
		Headers:    &http.Header{"Content-Type": {"application/json"}},
	})
	require.Equal(t, http.StatusOK, res.status)
	require.Equal(t, "application/json", res.contentType)
	require.Equal(t, `{"dados":[]}`, string(res.body))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	require.Equal(t, http.StatusBadGateway, res.status)
	require.EqualError(t, res.err, "Bad Gateway")
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
