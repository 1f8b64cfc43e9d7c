package datastore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/loykin/extractor/internal/errs"
)

// Regions read by the extractor.
const (
	QueriesRegion        = "mail.jobseeker.extractor.queries"
	ScheduleRegionPrefix = "mail.jobseeker.extractor.schedule"
)

// Schedule field keys inside a schedule region.
const (
	KeyStart    = "start"
	KeyEnd      = "end"
	KeyInterval = "interval"
	KeyTime     = "time"
	KeyQuery    = "query"
)

// ScheduleRegion returns the region holding the schedule of country.
func ScheduleRegion(country string) string {
	return ScheduleRegionPrefix + "." + strings.ToLower(country)
}

type Key struct {
	Region string `json:"region"`
	Key    string `json:"key"`
}

type Value struct {
	DatastoreKey Key    `json:"datastoreKey"`
	Value        string `json:"value"`
}

// ValueList is the wire shape of GET {base}/{region}.
type ValueList struct {
	List []Value `json:"list"`
}

// Entries flattens a ValueList into key -> value. Later duplicates win.
type Entries map[string]string

func (l ValueList) Entries() Entries {
	out := make(Entries, len(l.List))
	for _, v := range l.List {
		out[v.DatastoreKey.Key] = v.Value
	}
	return out
}

// RawSchedule holds the unparsed schedule fields of a country.
type RawSchedule struct {
	Query    string
	Start    string
	End      string
	Interval string
	Time     string
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client reads regions from the remote key-value config store.
// Nothing is cached; every call hits the store.
type Client struct {
	http    *resty.Client
	baseURL string
	logger  *slog.Logger
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	return &Client{
		http: resty.New().
			SetTimeout(opts.Timeout).
			SetHeader("Accept", "application/json"),
		baseURL: base,
		logger:  opts.Logger,
	}
}

// Region fetches every entry of region.
func (c *Client) Region(ctx context.Context, region string) (Entries, error) {
	url := c.baseURL + "/" + region
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, &errs.UpstreamError{URL: url, Err: err}
	}
	if !resp.IsSuccess() {
		return nil, &errs.UpstreamError{URL: url, StatusCode: resp.StatusCode(),
			Err: fmt.Errorf("unexpected status %s", resp.Status())}
	}
	var list ValueList
	if err := json.Unmarshal(resp.Body(), &list); err != nil {
		return nil, &errs.UpstreamError{URL: url, StatusCode: resp.StatusCode(),
			Err: fmt.Errorf("decode value list: %w", err)}
	}
	entries := list.Entries()
	c.logger.Debug("Fetched datastore region", "region", region, "keys", len(entries))
	return entries, nil
}

// Schedule fetches the schedule region of country.
func (c *Client) Schedule(ctx context.Context, country string) (RawSchedule, error) {
	c.logger.Debug("Fetching extractor schedule", "country", country)
	e, err := c.Region(ctx, ScheduleRegion(country))
	if err != nil {
		return RawSchedule{}, fmt.Errorf("fetch extractor schedule [country=%s]: %w", country, err)
	}
	return RawSchedule{
		Query:    e[KeyQuery],
		Start:    e[KeyStart],
		End:      e[KeyEnd],
		Interval: e[KeyInterval],
		Time:     e[KeyTime],
	}, nil
}

// Queries fetches the shared query catalog.
func (c *Client) Queries(ctx context.Context) (Entries, error) {
	c.logger.Debug("Fetching available queries")
	e, err := c.Region(ctx, QueriesRegion)
	if err != nil {
		return nil, fmt.Errorf("fetch extractor queries: %w", err)
	}
	return e, nil
}
