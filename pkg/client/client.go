package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
	"github.com/pipewatch/pipewatch/pkg/store"
)

const defaultGeneratePath = "/v1/generate"

type Options struct {
	// BaseURL of the pipeline server, e.g. "http://localhost:8741".
	BaseURL string
	// Path of the generation endpoint. Defaults to /v1/generate.
	Path string
	// HTTPClient must not set a global timeout: the stream stays open for the
	// whole run. Defaults to a client with no timeout.
	HTTPClient *http.Client
	// Retry bounds reconnect attempts while establishing the stream.
	Retry RetryPolicy
	// Header is merged into every request (auth etc.; constructed upstream).
	Header http.Header
}

// Client owns at most one live generation stream and translates its frames
// into store mutations. Starting a new run supersedes the previous one: the
// old connection is aborted, not drained, and any late frames it produces are
// refused by the generation guard.
type Client struct {
	opts  Options
	store *store.Store
	log   zerolog.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	generation uint64
}

func New(st *store.Store, opts Options) *Client {
	if opts.Path == "" {
		opts.Path = defaultGeneratePath
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	opts.Retry = opts.Retry.normalized()
	return &Client{
		opts:  opts,
		store: st,
		log:   log.With().Str("component", "stream-client").Logger(),
	}
}

// Store returns the store this client mutates.
func (c *Client) Store() *store.Store { return c.store }

// StartGeneration opens the stream for one run and blocks until it ends.
// The returned error is non-nil only for caller mistakes (unmarshalable
// request); every runtime outcome, including server failure and user
// cancellation, resolves nil and is reported through the store's Err and
// IsRunning fields.
func (c *Client) StartGeneration(ctx context.Context, request any) error {
	body, err := json.Marshal(request)
	if err != nil {
		return errors.Wrap(err, "marshal generation request")
	}

	c.mu.Lock()
	if c.cancel != nil {
		// Abandon the in-flight run without draining it.
		c.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.generation++
	gen := c.generation
	// Reset under the same lock that bumped the generation: a frame from the
	// superseded connection must never reach the fresh log, where the empty
	// run_id would let the store adopt the stale run's identifier.
	c.store.Reset("")
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.generation == gen {
			c.cancel = nil
		}
		c.mu.Unlock()
		cancel()
	}()

	retry := c.opts.Retry
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		if delay := retry.BackoffFor(attempt); delay > 0 {
			select {
			case <-runCtx.Done():
				return nil
			case <-time.After(delay):
			}
		}

		resp, err := c.dial(runCtx, body)
		if err != nil {
			if runCtx.Err() != nil {
				return nil
			}
			if attempt < retry.MaxAttempts {
				c.log.Debug().Err(err).Int("attempt", attempt).Msg("dial failed, retrying")
				continue
			}
			c.setError(gen, errors.Wrapf(err, "%s", ErrStreamTransport))
			return nil
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			// A rejected open is not a flaky connection; no retry.
			msg := readErrorBody(resp.Body)
			_ = resp.Body.Close()
			c.setError(gen, errors.Errorf("%s: status %d: %s", ErrStreamHTTPStatus, resp.StatusCode, msg))
			return nil
		}

		sawEvents, err := c.consume(runCtx, gen, resp.Body)
		_ = resp.Body.Close()
		if err == nil {
			return nil
		}
		if runCtx.Err() != nil {
			// User cancellation or supersession; the store is already settled.
			return nil
		}
		if !sawEvents && attempt < retry.MaxAttempts {
			c.log.Debug().Err(err).Int("attempt", attempt).Msg("stream dropped before first event, retrying")
			continue
		}
		c.setError(gen, errors.Wrapf(err, "%s", ErrStreamTransport))
		return nil
	}
	return nil
}

// Cancel aborts the active connection and marks the run as cancelled by the
// user. Calling it with no active run is a no-op. The store mutation happens
// under the client lock so a concurrent StartGeneration cannot reset the
// store in between and end up with a fresh run born cancelled.
func (c *Client) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	if cancel != nil {
		c.store.SetError(ErrRunCancelled)
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Client) dial(ctx context.Context, body []byte) (*http.Response, error) {
	url := strings.TrimRight(c.opts.BaseURL, "/") + c.opts.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build stream request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, vs := range c.opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.opts.HTTPClient.Do(req)
}

// consume reads SSE frames until the stream ends. Empty frames are
// keep-alives and are skipped; malformed payloads are dropped without
// terminating the stream.
func (c *Client) consume(ctx context.Context, gen uint64, r io.Reader) (sawEvents bool, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return sawEvents, nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			// event:/id: fields carry nothing we dispatch on.
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		ev, perr := pipeline.ParseEvent([]byte(data))
		if perr != nil {
			c.log.Debug().Err(perr).Msg("dropping malformed event frame")
			continue
		}
		sawEvents = true
		c.apply(gen, ev)
	}
	if serr := scanner.Err(); serr != nil {
		return sawEvents, serr
	}
	return sawEvents, nil
}

// apply forwards one event to the store plus the type-specific artifact
// extraction. The generation check and the store mutation share the client
// lock: checking first and mutating later would leave a window where a
// superseding StartGeneration resets the store between the two.
func (c *Client) apply(gen uint64, ev pipeline.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	if !c.store.AddEvent(ev) {
		return
	}

	switch ev.Type {
	case pipeline.EventRunStarted:
		if p, err := ev.DecodeStart(); err == nil && p.RunID != "" {
			c.store.SetRunID(p.RunID)
		}
	case pipeline.EventRunCompleted:
		p, err := ev.DecodeCompletion()
		if err != nil {
			c.log.Debug().Err(err).Msg("run.completed payload not decodable")
			return
		}
		if p.Plan != nil {
			c.store.SetPlan(p.Plan)
		}
		if p.Scorecard != nil {
			c.store.SetScorecard(p.Scorecard)
		}
	case pipeline.EventQualityScored:
		if p, err := ev.DecodeQuality(); err == nil {
			report := p
			c.store.SetQualityReport(&report)
		}
	}
}

func (c *Client) setError(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	c.store.SetError(err)
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(bytes.TrimSpace(b)) == 0 {
		return "no body"
	}
	return string(bytes.TrimSpace(b))
}
