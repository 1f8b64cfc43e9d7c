package timezone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/loykin/extractor/internal/errs"
)

// ErrCountryNotFound is wrapped in a LookupError when the table has no entry.
var ErrCountryNotFound = errors.New("country not found")

const tableKey = "fullmap"

// Entry is one row of the timezone service table.
type Entry struct {
	Country  string `json:"country"`
	Timezone string `json:"timezone"`
}

// Table maps lower-case country codes to IANA zone names.
type Table map[string]string

// Cache holds the fetched table. A ttl <= 0 keeps it for the process lifetime.
type Cache = expirable.LRU[string, Table]

func NewCache(ttl time.Duration) *Cache {
	return expirable.NewLRU[string, Table](1, nil, ttl)
}

// Options configures a Resolver.
type Options struct {
	URL     string
	Timeout time.Duration
	Cache   *Cache
	Logger  *slog.Logger
}

// Resolver maps a country to its timezone, fetching the whole table from the
// timezone service on first use and whenever the cached copy has expired.
type Resolver struct {
	http   *resty.Client
	url    string
	cache  *Cache
	logger *slog.Logger
	mu     sync.Mutex
}

func New(opts Options) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Cache == nil {
		opts.Cache = NewCache(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{
		http:   resty.New().SetTimeout(opts.Timeout).SetHeader("Accept", "application/json"),
		url:    opts.URL,
		cache:  opts.Cache,
		logger: opts.Logger,
	}
}

// Timezone returns the IANA zone name of country. Matching is case-insensitive.
func (r *Resolver) Timezone(ctx context.Context, country string) (string, error) {
	table, status, err := r.table(ctx)
	if err != nil {
		return "", &errs.LookupError{Country: country, URL: r.url, StatusCode: status, Err: err}
	}
	tz, ok := table[strings.ToLower(country)]
	if !ok {
		return "", &errs.LookupError{Country: country, URL: r.url, StatusCode: status,
			Err: fmt.Errorf("%w [country=%s]", ErrCountryNotFound, country)}
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", &errs.LookupError{Country: country, URL: r.url, StatusCode: status,
			Err: fmt.Errorf("invalid timezone %q: %w", tz, err)}
	}
	r.logger.Debug("Timezone resolved", "country", country, "timezone", tz)
	return tz, nil
}

// table returns the cached table, fetching it when absent. The status code of
// the last upstream call is returned for error reporting (0 when cached).
func (r *Resolver) table(ctx context.Context) (Table, int, error) {
	if t, ok := r.cache.Get(tableKey); ok {
		return t, 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.cache.Get(tableKey); ok {
		return t, 0, nil
	}

	entries, status, err := r.fetch(ctx)
	if err != nil {
		return nil, status, err
	}
	t := make(Table, len(entries))
	for _, e := range entries {
		t[strings.ToLower(e.Country)] = e.Timezone
	}
	r.cache.Add(tableKey, t)
	r.logger.Debug("Timezone table fetched", "url", r.url, "countries", len(t))
	return t, status, nil
}

func (r *Resolver) fetch(ctx context.Context) ([]Entry, int, error) {
	resp, err := r.http.R().SetContext(ctx).Get(r.url)
	if err != nil {
		return nil, 0, err
	}
	if !resp.IsSuccess() {
		return nil, resp.StatusCode(), fmt.Errorf("invalid status code %d", resp.StatusCode())
	}
	var entries []Entry
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &entries); err != nil {
			return nil, resp.StatusCode(), fmt.Errorf("decode timezone table: %w", err)
		}
	}
	return entries, resp.StatusCode(), nil
}

// Invalidate drops the cached table so the next lookup refetches it.
func (r *Resolver) Invalidate() {
	r.cache.Remove(tableKey)
}
