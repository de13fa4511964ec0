package api

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/internal/httpclient"
)

const basePath = "/api/v1"

// Doer is the transport the service needs; *httpclient.Client implements it.
type Doer interface {
	Do(ctx context.Context, method, path string, query url.Values, body, out any) error
	Download(ctx context.Context, method, path string, query url.Values, body any) ([]byte, string, error)
}

// ValidationError is returned before any request is sent.
type ValidationError = errs.ValidationError

var _ Doer = (*httpclient.Client)(nil)

// Service is the single entry point for backend calls. Every list call
// normalizes its parameters before anything is sent.
type Service struct {
	http           Doer
	maxConcurrency int
	now            func() time.Time
}

func NewService(d Doer) *Service {
	return &Service{
		http:           d,
		maxConcurrency: 4,
		now:            time.Now,
	}
}

// SetMaxConcurrency bounds the fan-out of batch helpers.
func (s *Service) SetMaxConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	s.maxConcurrency = n
}

func endpoint(parts ...string) string {
	p := basePath
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func idPart(id int64) string {
	return strconv.FormatInt(id, 10)
}
