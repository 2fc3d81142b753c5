package imagesearch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, endpoint string) *Service {
	t.Helper()
	return NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Endpoint:  endpoint,
		Keyword:   "cats",
		CachePath: filepath.Join(t.TempDir(), "cache.txt"),
	})
}

func pageBody(urls ...string) string {
	items := make([]string, 0, len(urls)+1)
	for _, u := range urls {
		items = append(items, fmt.Sprintf(`{"thumbURL":%q}`, u))
	}
	items = append(items, `{}`)
	return `{"data":[` + strings.Join(items, ",") + `]}`
}

func TestRefreshStopsAtMaxPages(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "resultjson_com", r.URL.Query().Get("tn"))
		assert.Equal(t, "cats", r.URL.Query().Get("word"))
		assert.Equal(t, "30", r.URL.Query().Get("rn"))
		assert.Equal(t, "https://image.baidu.com/", r.Header.Get("Referer"))
		// every page repeats the same two URLs, so no page reaches the threshold
		_, _ = io.WriteString(w, pageBody("https://t/1.jpg", "https://t/2.jpg"))
	}))
	defer srv.Close()

	s := newTestService(t, srv.URL)
	urls, err := s.refresh(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, int32(DefaultMaxPages), requests.Load())
	assert.Equal(t, []string{"https://t/1.jpg", "https://t/2.jpg"}, urls)

	saved, err := os.ReadFile(s.cachePath)
	require.NoError(t, err)
	assert.Equal(t, "https://t/1.jpg\nhttps://t/2.jpg\n", string(saved))
}

func TestRefreshStopsWhenPageIsRich(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		pages []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pn, _ := strconv.Atoi(r.URL.Query().Get("pn"))
		mu.Lock()
		pages = append(pages, r.URL.Query().Get("pn"))
		mu.Unlock()
		urls := make([]string, 0, 12)
		for i := range 12 {
			urls = append(urls, fmt.Sprintf("https://t/%d-%d.jpg", pn, i))
		}
		_, _ = io.WriteString(w, pageBody(urls...))
	}))
	defer srv.Close()

	s := newTestService(t, srv.URL)
	urls, err := s.refresh(context.Background(), []string{"https://t/existing.jpg"})
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []string{"0"}, pages)
	mu.Unlock()
	assert.Len(t, urls, 13)
	assert.Equal(t, "https://t/existing.jpg", urls[0])
}

func TestFetchPageRepairsBadEscapes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"thumbURL":"https://t/a.jpg","fromPageTitle":"it\'s"}]}`)
	}))
	defer srv.Close()

	thumbs, err := newTestService(t, srv.URL).fetchPage(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://t/a.jpg"}, thumbs)
}

func TestReturnURLUsesCacheOnOddDraw(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = io.WriteString(w, pageBody())
	}))
	defer srv.Close()

	s := newTestService(t, srv.URL)
	require.NoError(t, os.WriteFile(s.cachePath, []byte("https://c/1.jpg\n\nhttps://c/2.jpg\n"), 0o644))
	s.intN = func(int) int { return 1 }

	got, ok := s.ReturnURL(context.Background())
	require.True(t, ok)
	assert.Equal(t, "https://c/2.jpg", got)
	assert.Zero(t, requests.Load())
}

func TestReturnURLRefreshesEmptyCache(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, pageBody("https://t/only.jpg"))
	}))
	defer srv.Close()

	s := newTestService(t, srv.URL)
	got, ok := s.ReturnURL(context.Background())
	require.True(t, ok)
	assert.Equal(t, "https://t/only.jpg", got)
}

func TestReturnURLEmptyWhenSearchFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	_, ok := newTestService(t, srv.URL).ReturnURL(context.Background())
	assert.False(t, ok)
}

func TestQuoteURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://img.example/a%20b.jpg%3Fx%3D1%26y%3D%E4%B8%AD", QuoteURL("https://img.example/a b.jpg?x=1&y=中"))
	assert.Equal(t, "https://a-b_c.d~e/f", QuoteURL("https://a-b_c.d~e/f"))
}
