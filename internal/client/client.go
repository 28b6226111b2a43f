// Package client talks to the remote flows endpoint: conditional
// fetches with ETag caching, optimistically locked pushes with the
// server revision, rate limiting, and bounded retries.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	flowerrors "github.com/conneroisu/flowtree/internal/errors"
	"github.com/conneroisu/flowtree/internal/flow"
	"github.com/conneroisu/flowtree/internal/logging"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 30 * time.Second

// retryCap is the number of retries after a transient failure; the
// backoff schedule is 1, 2, 4, 8, 16 seconds.
const retryCap = 5

// Credential is the opaque, already-resolved authentication value the
// client consumes. Resolution (files, environment, prompts) happens
// outside the core.
type Credential struct {
	Type     string // "none", "bearer", "basic"
	Token    string
	Username string
	Password string
}

// FetchStatus classifies a fetch outcome.
type FetchStatus int

const (
	FetchFresh FetchStatus = iota
	FetchUnchanged
	FetchError
)

// PushStatus classifies a push outcome.
type PushStatus int

const (
	PushOk PushStatus = iota
	PushConflict
	PushRateLimited
	PushError
)

// FetchResult is the outcome of a conditional fetch.
type FetchResult struct {
	Status   FetchStatus
	Document flow.Document
	ETag     string
	Revision string
	Err      error
}

// PushResult is the outcome of an optimistically locked push.
type PushResult struct {
	Status      PushStatus
	NewRevision string
	// DeploymentType passes through the server's redeploy-selection
	// header untouched.
	DeploymentType string
	Err            error
}

// Client is the remote flows endpoint client. Safe for use from a
// single reaction at a time; the cached ETag is internally locked so
// command surfaces may clear it concurrently.
type Client struct {
	baseURL string
	cred    Credential
	http    *http.Client
	limiter *RateLimiter
	log     logging.Logger

	mu   sync.Mutex
	etag string

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Options configures a client.
type Options struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	PerMinute          int
	Per10Minutes       int
}

// New creates a client for the given base URL (the endpoint is
// <base>/flows) with a resolved credential.
func New(baseURL string, cred Credential, opts Options, log logging.Logger) *Client {
	if log == nil {
		log = logging.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport
	if opts.InsecureSkipVerify {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = t
	}
	return &Client{
		baseURL: baseURL,
		cred:    cred,
		http:    &http.Client{Timeout: timeout, Transport: transport},
		limiter: NewRateLimiter(opts.PerMinute, opts.Per10Minutes),
		log:     log.WithComponent("client"),
		sleep:   sleepCtx,
	}
}

// Limiter exposes the rate limiter for status snapshots.
func (c *Client) Limiter() *RateLimiter { return c.limiter }

// BaseURL returns the configured server base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ETag returns the cached ETag.
func (c *Client) ETag() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.etag
}

// ClearETag drops the cached ETag so the next fetch is unconditional.
func (c *Client) ClearETag() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.etag = ""
}

// Fetch performs a conditional GET of the document. force skips the
// ETag so the fetch is unconditional.
func (c *Client) Fetch(ctx context.Context, force bool) FetchResult {
	if !c.limiter.TryAcquire() {
		minute, tenMin := c.limiter.Stats()
		return FetchResult{Status: FetchError, Err: flowerrors.NewRateLimited(
			fmt.Sprintf("fetch refused: %d req/min, %d req/10min", minute, tenMin))}
	}

	var res FetchResult
	err := c.withRetry(ctx, "fetch", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/flows", nil)
		if err != nil {
			return flowerrors.NewInternal("building fetch request", err)
		}
		c.authorize(req)
		req.Header.Set("Node-RED-API-Version", "v2")
		if !force {
			if etag := c.ETag(); etag != "" {
				req.Header.Set("If-None-Match", etag)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return flowerrors.NewTransient("fetch failed", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotModified:
			res = FetchResult{Status: FetchUnchanged, ETag: c.ETag()}
			return nil
		case resp.StatusCode >= 500:
			return flowerrors.NewTransient(fmt.Sprintf("server returned %d", resp.StatusCode), nil)
		case resp.StatusCode != http.StatusOK:
			return flowerrors.NewIO(fmt.Sprintf("fetch returned %d", resp.StatusCode), nil)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return flowerrors.NewTransient("reading fetch body", err)
		}
		doc, revision, err := decodeFlowsBody(body)
		if err != nil {
			return flowerrors.NewIO("parsing fetched document", err)
		}

		etag := resp.Header.Get("ETag")
		c.mu.Lock()
		c.etag = etag
		c.mu.Unlock()

		res = FetchResult{Status: FetchFresh, Document: doc, ETag: etag, Revision: revision}
		return nil
	})
	if err != nil {
		return FetchResult{Status: FetchError, Err: err}
	}
	return res
}

// Push uploads the document under the given revision. A successful
// push clears the cached ETag so the next fetch is unconditional and
// server-applied mutations become visible.
func (c *Client) Push(ctx context.Context, doc flow.Document, revision string) PushResult {
	if !c.limiter.TryAcquire() {
		minute, tenMin := c.limiter.Stats()
		return PushResult{Status: PushRateLimited, Err: flowerrors.NewRateLimited(
			fmt.Sprintf("push refused: %d req/min, %d req/10min", minute, tenMin))}
	}

	payload, err := json.Marshal(map[string]any{"flows": rawDocument(doc)})
	if err != nil {
		return PushResult{Status: PushError, Err: flowerrors.NewInternal("encoding push body", err)}
	}

	var res PushResult
	err = c.withRetry(ctx, "push", func() error {
		url := c.baseURL + "/flows"
		if revision != "" {
			url += "?rev=" + revision
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return flowerrors.NewInternal("building push request", err)
		}
		c.authorize(req)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Node-RED-API-Version", "v2")
		req.Header.Set("Node-RED-Deployment-Type", "full")

		resp, err := c.http.Do(req)
		if err != nil {
			return flowerrors.NewTransient("push failed", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusConflict:
			res = PushResult{Status: PushConflict, Err: flowerrors.NewConflict("server document changed while editing")}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			res = PushResult{Status: PushRateLimited, Err: flowerrors.NewRateLimited("server rate limit")}
			return nil
		case resp.StatusCode >= 500:
			return flowerrors.NewTransient(fmt.Sprintf("server returned %d", resp.StatusCode), nil)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return flowerrors.NewIO(fmt.Sprintf("push returned %d", resp.StatusCode), nil)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return flowerrors.NewTransient("reading push body", err)
		}
		var out struct {
			Rev string `json:"rev"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return flowerrors.NewIO("parsing push response", err)
		}

		c.ClearETag()
		res = PushResult{
			Status:         PushOk,
			NewRevision:    out.Rev,
			DeploymentType: resp.Header.Get("Node-RED-Deployment-Type"),
		}
		return nil
	})
	if err != nil {
		if flowerrors.IsRateLimited(err) {
			return PushResult{Status: PushRateLimited, Err: err}
		}
		return PushResult{Status: PushError, Err: err}
	}
	return res
}

// withRetry runs op, retrying transient failures with exponential
// backoff (1, 2, 4, 8, 16 s) up to the consecutive-failure cap.
func (c *Client) withRetry(ctx context.Context, what string, op func() error) error {
	delay := time.Second
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !flowerrors.IsTransient(err) {
			return err
		}
		if attempt > retryCap {
			c.log.Error(ctx, err, "giving up after retries", "op", what, "attempts", attempt)
			return err
		}
		c.log.Warn(ctx, err, "transient failure, backing off",
			"op", what, "attempt", attempt, "delay", delay.String())
		if serr := c.sleep(ctx, delay); serr != nil {
			return flowerrors.NewTransient("cancelled during backoff", serr)
		}
		delay *= 2
	}
}

func (c *Client) authorize(req *http.Request) {
	switch c.cred.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+c.cred.Token)
	case "basic":
		req.SetBasicAuth(c.cred.Username, c.cred.Password)
	}
}

// decodeFlowsBody accepts both response shapes: a bare array, or the
// v2 envelope {"flows": [...], "rev": "..."}.
func decodeFlowsBody(body []byte) (flow.Document, string, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var envelope struct {
			Flows json.RawMessage `json:"flows"`
			Rev   string          `json:"rev"`
		}
		if err := dec.Decode(&envelope); err != nil {
			return nil, "", err
		}
		doc, err := flow.Parse(envelope.Flows)
		if err != nil {
			return nil, "", err
		}
		return doc, envelope.Rev, nil
	}
	doc, err := flow.Parse(body)
	return doc, "", err
}

func rawDocument(doc flow.Document) []map[string]any {
	out := make([]map[string]any, len(doc))
	for i, n := range doc {
		out[i] = map[string]any(n)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
