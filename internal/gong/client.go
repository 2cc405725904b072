// Package gong provides the client for the call-transcript source API.
package gong

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const transcriptPath = "/v2/calls/transcript"

// Client fetches call transcripts page by page. The source paginates with an
// opaque cursor; a response without a cursor is the final page.
type Client struct {
	baseURL         string
	accessKey       string
	accessKeySecret string
	pageSize        int
	httpClient      *http.Client
	log             *logrus.Entry
}

// Options configures a Client.
type Options struct {
	BaseURL         string
	AccessKey       string
	AccessKeySecret string
	PageSize        int
	Timeout         time.Duration
	Log             *logrus.Entry
}

// NewClient constructs a transcript source client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		baseURL:         opts.BaseURL,
		accessKey:       opts.AccessKey,
		accessKeySecret: opts.AccessKeySecret,
		pageSize:        opts.PageSize,
		httpClient:      &http.Client{Timeout: timeout},
		log:             log.WithField("module", "gong"),
	}
}

// PageFunc consumes one page of transcripts. Returning an error stops the
// iteration and is surfaced to the caller.
type PageFunc func(page []CallTranscript) error

// Pages fetches every page for the filter, invoking fn once per page. Each
// request carries the cursor from the previous response; iteration ends when
// a response omits the cursor. A failed page request is fatal: pages already
// delivered to fn are not revisited and no checkpoint is kept.
func (c *Client) Pages(ctx context.Context, filter Filter, fn PageFunc) error {
	cursor := ""
	for pageNum := 1; ; pageNum++ {
		resp, err := c.fetchPage(ctx, filter, cursor)
		if err != nil {
			return fmt.Errorf("fetch transcript page %d: %w", pageNum, err)
		}

		c.log.WithFields(logrus.Fields{
			"page":    pageNum,
			"records": len(resp.CallTranscripts),
		}).Info("fetched transcript page")

		if err := fn(resp.CallTranscripts); err != nil {
			return err
		}

		if resp.Records.Cursor == "" {
			return nil
		}
		cursor = resp.Records.Cursor
	}
}

// fetchPage issues a single page request, retrying transient server errors
// with exponential backoff. Client errors and malformed responses fail
// immediately.
func (c *Client) fetchPage(ctx context.Context, filter Filter, cursor string) (*transcriptsResponse, error) {
	body, err := json.Marshal(transcriptsRequest{
		Filter:   filter,
		Cursor:   cursor,
		PageSize: c.pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal transcript request: %w", err)
	}

	var out *transcriptsResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+transcriptPath, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.SetBasicAuth(c.accessKey, c.accessKeySecret)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("transcript source server error: status %d: %s", resp.StatusCode, respBody)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("transcript source returned status %d: %s", resp.StatusCode, respBody))
		}

		var parsed transcriptsResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("decode transcript response: %w", err))
		}
		out = &parsed
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 15 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return out, nil
}
