// Package opensearch reads log records from an OpenSearch index with scroll
// pagination and keeps the pull-path checkpoint in a singleton document.
package opensearch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// Config configures the OpenSearch client.
type Config struct {
	Endpoint           string
	Username           string
	Password           string
	InsecureSkipVerify bool
	MaxRetries         int
	Timeout            time.Duration
}

// NewClient returns a client that retries on 502/503/504 and timeouts and
// compresses request bodies.
func NewClient(cfg Config) (*opensearch.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
	}
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses:            []string{cfg.Endpoint},
		Username:             cfg.Username,
		Password:             cfg.Password,
		Transport:            transport,
		MaxRetries:           cfg.MaxRetries,
		RetryOnStatus:        []int{502, 503, 504},
		EnableRetryOnTimeout: true,
		CompressRequestBody:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("opensearch client: %w", err)
	}
	return client, nil
}

// DefaultWaitInterval is the WaitForIndex poll interval used when none is given.
const DefaultWaitInterval = 2 * time.Second

// WaitForIndex polls until index exists or ctx is done. A non-positive
// interval means DefaultWaitInterval.
func WaitForIndex(ctx context.Context, client *opensearch.Client, index string, interval time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	for {
		res, err := opensearchapi.IndicesExistsRequest{Index: []string{index}}.Do(ctx, client)
		if err == nil {
			res.Body.Close()
			if res.StatusCode == http.StatusOK {
				return nil
			}
			logger.Info("waiting for index", "index", index, "status", res.StatusCode)
		} else {
			logger.Warn("index check failed", "index", index, "error", err)
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// responseError turns a non-2xx response into an error with a body excerpt.
func responseError(op string, res *opensearchapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	return fmt.Errorf("%s: %s: %s", op, res.Status(), strings.TrimSpace(string(body)))
}
