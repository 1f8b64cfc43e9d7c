package opensearch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/loykin/extractor/internal/history"
)

const DefaultIndex = "extractor-history"

// Sink indexes events into OpenSearch, one document per event:
// POST baseURL/index/_doc.
type Sink struct {
	http    *resty.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	if index == "" {
		index = DefaultIndex
	}
	return &Sink{
		http:    resty.New().SetTimeout(5 * time.Second).SetHeader("Content-Type", "application/json"),
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	resp, err := s.http.R().SetContext(ctx).SetBody(e).Post(fmt.Sprintf("%s/%s/_doc", s.baseURL, s.index))
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode())
	}
	return nil
}
