package camara

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
	"github.com/JakeFAU/camara-crawler/internal/hash/sha256"
	"github.com/JakeFAU/camara-crawler/internal/storage/memory"
)

const testBase = "http://camara.test/api/v2"

// fakeFetcher serves canned "dados" payloads keyed by URL without the base.
type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[string]any
	errs     map[string][]error
	calls    []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{payloads: map[string]any{}, errs: map[string][]error{}}
}

func (f *fakeFetcher) set(path string, dados any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[path] = dados
}

// fail queues errors returned before the payload is served.
func (f *fakeFetcher) fail(path string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[path] = append(f.errs[path], errs...)
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (crawler.Envelope, error) {
	path := strings.TrimPrefix(rawURL, testBase)
	f.mu.Lock()
	f.calls = append(f.calls, path)
	if queued := f.errs[path]; len(queued) > 0 {
		f.errs[path] = queued[1:]
		f.mu.Unlock()
		return crawler.Envelope{}, queued[0]
	}
	dados, ok := f.payloads[path]
	f.mu.Unlock()
	if !ok {
		return crawler.Envelope{}, crawler.NewFatalError(rawURL, 404, errors.New("not found"))
	}
	return crawler.NewEnvelope(rawURL, crawler.FormatJSON, crawler.Object{"dados": dados})
}

func (f *fakeFetcher) callCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == path {
			n++
		}
	}
	return n
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestDeps(f *fakeFetcher) (Deps, *memory.DocumentStore) {
	policy := crawler.NewLinearRetryPolicy(3, time.Second)
	policy.Sleep = noSleep
	store := memory.NewDocumentStore()
	return Deps{
		Client: NewClient(f, testBase, policy, nil),
		Store:  store,
		Clock:  fixedClock{t: testNow},
		Hasher: sha256.New(),
	}, store
}

func obj(kv ...any) map[string]any {
	out := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}

func list(items ...map[string]any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
