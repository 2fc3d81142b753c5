// Package imagesearch supplies random image URLs scraped from Baidu image
// search and cached on disk.
package imagesearch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultEndpoint  = "https://image.baidu.com/search/acjson"
	DefaultCachePath = "cache.txt"
	DefaultMaxPages  = 5
	pageSize         = 30
	// A page adding fewer new URLs than this moves on to the next page.
	minNewPerPage  = 10
	requestTimeout = 10 * time.Second
)

var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
	"Referer":         "https://image.baidu.com/",
	"Accept":          "application/json, text/javascript, */*; q=0.01",
	"Accept-Language": "zh-CN,zh;q=0.9",
	"Connection":      "keep-alive",
}

type Config struct {
	Endpoint  string
	Keyword   string
	CachePath string
	MaxPages  int
}

type Service struct {
	endpoint   string
	keyword    string
	cachePath  string
	maxPages   int
	httpClient *http.Client
	logger     *slog.Logger
	group      singleflight.Group
	mu         sync.Mutex
	intN       func(int) int
}

func NewService(log *slog.Logger, cfg Config) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		endpoint:   cfg.Endpoint,
		keyword:    cfg.Keyword,
		cachePath:  cfg.CachePath,
		maxPages:   cfg.MaxPages,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     log.With(slog.String("service", "image_search")),
		intN:       rand.IntN,
	}
	if s.endpoint == "" {
		s.endpoint = DefaultEndpoint
	}
	if s.cachePath == "" {
		s.cachePath = DefaultCachePath
	}
	if s.maxPages <= 0 {
		s.maxPages = DefaultMaxPages
	}
	return s
}

// ReturnURL picks a random cached URL. The cache is refreshed first when it
// is empty or when a random draw comes up even.
func (s *Service) ReturnURL(ctx context.Context) (string, bool) {
	cache, err := s.load()
	if err != nil {
		s.logger.Warn("read image cache failed", slog.String("path", s.cachePath), slog.Any("error", err))
	}
	index := s.intN(max(len(cache)-1, 0) + 1)
	if len(cache) == 0 || index%2 == 0 {
		refreshed, err, _ := s.group.Do("refresh", func() (any, error) {
			return s.refresh(ctx, cache)
		})
		if err != nil {
			s.logger.Warn("image cache refresh failed", slog.Any("error", err))
		} else {
			cache = refreshed.([]string)
		}
	}
	if len(cache) == 0 {
		return "", false
	}
	return cache[s.intN(len(cache))], true
}

// refresh fetches at most maxPages pages and persists the merged cache.
func (s *Service) refresh(ctx context.Context, existing []string) ([]string, error) {
	urls := append([]string(nil), existing...)
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		seen[u] = struct{}{}
	}

	for page := 0; page < s.maxPages; page++ {
		thumbs, err := s.fetchPage(ctx, page*pageSize)
		if err != nil {
			s.logger.Warn("image search page failed", slog.Int("page", page), slog.Any("error", err))
			break
		}
		added := 0
		for _, thumb := range thumbs {
			if thumb == "" {
				continue
			}
			if _, ok := seen[thumb]; ok {
				continue
			}
			seen[thumb] = struct{}{}
			urls = append(urls, thumb)
			added++
		}
		s.logger.Debug("image search page fetched", slog.Int("page", page), slog.Int("added", added))
		if added >= minNewPerPage {
			break
		}
	}

	if err := s.save(urls); err != nil {
		return urls, fmt.Errorf("save image cache: %w", err)
	}
	return urls, nil
}

type searchResponse struct {
	Data []struct {
		ThumbURL string `json:"thumbURL"`
	} `json:"data"`
}

func (s *Service) fetchPage(ctx context.Context, offset int) ([]string, error) {
	q := url.Values{
		"tn":   {"resultjson_com"},
		"word": {s.keyword},
		"ie":   {"utf-8"},
		"pn":   {strconv.Itoa(offset)},
		"rn":   {strconv.Itoa(pageSize)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image search status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		// Baidu sometimes emits invalid escapes such as \' inside strings.
		fixed := bytes.ReplaceAll(body, []byte(`\`), []byte(`\\`))
		if err2 := json.Unmarshal(fixed, &out); err2 != nil {
			return nil, fmt.Errorf("decode image search response: %w", err)
		}
	}
	thumbs := make([]string, 0, len(out.Data))
	for _, item := range out.Data {
		thumbs = append(thumbs, item.ThumbURL)
	}
	return thumbs, nil
}

func (s *Service) load() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.cachePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			urls = append(urls, line)
		}
	}
	return urls, scanner.Err()
}

func (s *Service) save(urls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf bytes.Buffer
	for _, u := range urls {
		if u == "" {
			continue
		}
		buf.WriteString(u)
		buf.WriteByte('\n')
	}
	tmp := s.cachePath + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.cachePath)
}

// QuoteURL percent-encodes u, keeping unreserved characters, ':' and '/'.
func QuoteURL(u string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(u))
	for i := 0; i < len(u); i++ {
		c := u[i]
		if isUnreserved(c) || c == ':' || c == '/' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' ||
		c == '-' || c == '_' || c == '.' || c == '~'
}
