package camara

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

func TestClientURL(t *testing.T) {
	t.Parallel()

	c := NewClient(newFakeFetcher(), "http://camara.test/api/v2/", crawler.RetryPolicy{}, nil)
	require.Equal(t, "http://camara.test/api/v2/deputados/1", c.URL("/deputados/1", nil))

	q := url.Values{}
	q.Add("siglaTipo", "PEC")
	q.Add("siglaTipo", "PL")
	require.Equal(t, "http://camara.test/api/v2/proposicoes?siglaTipo=PEC&siglaTipo=PL", c.URL("proposicoes", q))

	require.Equal(t, DefaultBaseURL+"/votacoes", NewClient(nil, "", crawler.RetryPolicy{}, nil).URL("votacoes", nil))
}

func TestClientRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.set("/deputados/1", obj("id", 1))
	f.fail("/deputados/1",
		crawler.NewTransientError("u", 503, errors.New("unavailable")),
		crawler.NewTransientError("u", 0, errors.New("connection reset")),
	)
	var waits []time.Duration
	policy := crawler.NewLinearRetryPolicy(3, 2*time.Second)
	policy.Sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	c := NewClient(f, testBase, policy, nil)

	detail, err := c.Detail(context.Background(), "/deputados/1")
	require.NoError(t, err)
	id, ok := detail.Int64("id")
	require.True(t, ok)
	require.Equal(t, int64(1), id)
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, waits)
	require.Equal(t, 3, f.callCount("/deputados/1"))
}

func TestClientDoesNotRetryFatal(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.fail("/deputados/2", crawler.NewFatalError("u", 400, errors.New("bad request")))
	deps, _ := newTestDeps(f)

	_, err := deps.Client.Detail(context.Background(), "/deputados/2")
	require.True(t, crawler.IsFatal(err))
	require.Equal(t, 1, f.callCount("/deputados/2"))
}

func TestClientShapeMismatchIsFatal(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.set("/deputados", list(obj("id", 1)))
	f.set("/deputados/1", obj("id", 1, "nome", "A"))
	deps, _ := newTestDeps(f)

	_, err := deps.Client.Detail(context.Background(), "/deputados")
	require.True(t, crawler.IsFatal(err))
	_, err = deps.Client.List(context.Background(), "/deputados/1", nil)
	require.True(t, crawler.IsFatal(err))
}
