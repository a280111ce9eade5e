package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzhttp"

	"github.com/roman-kulish/spindle-monitor/internal/spectrum"
)

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
	ActionFetch Action = "fetch"

	// DefaultRequestTimeout bounds every single collector request.
	DefaultRequestTimeout = 3 * time.Second

	maxResponseSize = 32 << 20
)

// Action is one of the remote collector actions.
type Action string

// WithHTTPClient replaces the HTTP client used to talk to the collector. The client's transport is
// used as is, without transparent gzip decoding.
func WithHTTPClient(hc *http.Client) func(*Client) {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRequestTimeout sets the timeout applied to every collector request.
func WithRequestTimeout(d time.Duration) func(*Client) {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) func(*Client) {
	return func(c *Client) {
		c.logger = logger.With(slog.String("component", "remote"), slog.String("collector", c.baseURL.Redacted()))
	}
}

// Client talks to the remote collector, which produces spectrogram frames per channel on request.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger

	mu   sync.Mutex
	last map[spectrum.Channel]spectrum.Frame // last non-empty frame per channel
}

// NewClient creates a client for the collector at baseURL.
func NewClient(baseURL string, options ...func(*Client)) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing collector url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid collector url scheme '%s'", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("collector url '%s' has no host", baseURL)
	}

	c := Client{
		baseURL: u,
		httpClient: &http.Client{
			Transport: gzhttp.Transport(http.DefaultTransport),
		},
		timeout: DefaultRequestTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		last:    make(map[spectrum.Channel]spectrum.Frame),
	}

	for _, option := range options {
		option(&c)
	}

	return &c, nil
}

// Start asks the collector to begin producing data for the channel and returns the first available
// frame, or an empty frame when nothing has been produced yet.
func (c *Client) Start(ctx context.Context, ch spectrum.Channel) (spectrum.Frame, error) {
	c.mu.Lock()
	delete(c.last, ch)
	c.mu.Unlock()

	samples, err := c.call(ctx, ActionStart, ch)
	if err != nil {
		return spectrum.Frame{}, err
	}

	return c.remember(ch, samples), nil
}

// Stop asks the collector to stop producing data for the channel. Stopping a channel that is not
// producing is not an error.
func (c *Client) Stop(ctx context.Context, ch spectrum.Channel) error {
	req, err := c.newRequest(ctx, ActionStop, ch)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return &TransientFetchError{Action: ActionStop, Channel: ch, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransientFetchError{Action: ActionStop, Channel: ch, StatusCode: resp.StatusCode}
	}

	return nil
}

// Fetch returns the most recent frame for the channel. When the collector has no new data, the
// previous frame is returned unchanged.
func (c *Client) Fetch(ctx context.Context, ch spectrum.Channel) (spectrum.Frame, error) {
	samples, err := c.call(ctx, ActionFetch, ch)
	if err != nil {
		return spectrum.Frame{}, err
	}

	if len(samples) == 0 {
		c.mu.Lock()
		prev, ok := c.last[ch]
		c.mu.Unlock()

		if ok {
			c.logger.Debug("no new data, repeating previous frame", slog.String("channel", ch.String()))
			return prev.Clone(), nil
		}
	}

	return c.remember(ch, samples), nil
}

// NextFrame is Fetch; it makes the client usable wherever a plain frame source is expected.
func (c *Client) NextFrame(ctx context.Context, ch spectrum.Channel) (spectrum.Frame, error) {
	return c.Fetch(ctx, ch)
}

func (c *Client) remember(ch spectrum.Channel, samples []spectrum.Sample) spectrum.Frame {
	f := spectrum.Frame{
		Channel:    ch,
		ReceivedAt: time.Now().UTC(),
		Samples:    samples,
	}

	if len(samples) > 0 {
		c.mu.Lock()
		c.last[ch] = f.Clone()
		c.mu.Unlock()
	}

	return f
}

func (c *Client) newRequest(ctx context.Context, action Action, ch spectrum.Channel) (*http.Request, error) {
	u := *c.baseURL
	q := u.Query()
	q.Set("action", string(action))
	if ch != spectrum.DefaultChannel {
		q.Set("channel", string(ch))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", action, err)
	}
	req.Header.Set("Accept", "application/json")

	return req, nil
}

type wireSample struct {
	Time      *float64 `json:"time"`
	Frequency *float64 `json:"frequency"`
	Amplitude *float64 `json:"amplitude"`
}

type wireResponse struct {
	SpectrogramData *[]wireSample `json:"spectrogramData"`
}

func (c *Client) call(ctx context.Context, action Action, ch spectrum.Channel) ([]spectrum.Sample, error) {
	req, err := c.newRequest(ctx, action, ch)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, &TransientFetchError{Action: action, Channel: ch, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, &TransientFetchError{Action: action, Channel: ch, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, &TransientFetchError{Action: action, Channel: ch, Err: fmt.Errorf("reading body: %w", err)}
	}
	if len(body) > maxResponseSize {
		return nil, &MalformedResponseError{Action: action, Channel: ch, Reason: "response too large"}
	}

	samples, merr := decodeSamples(body)
	if merr != nil {
		merr.Action, merr.Channel = action, ch
		return nil, merr
	}

	c.logger.Debug("collector responded",
		slog.String("action", string(action)),
		slog.String("channel", ch.String()),
		slog.Int("samples", len(samples)),
		slog.String("size", humanize.Bytes(uint64(len(body)))),
		slog.Duration("elapsed", time.Since(started)))

	return samples, nil
}

func decodeSamples(body []byte) ([]spectrum.Sample, *MalformedResponseError) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &MalformedResponseError{Reason: "empty body"}
	}

	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, &MalformedResponseError{Reason: "invalid json", Err: err}
	}
	if wr.SpectrogramData == nil {
		return nil, &MalformedResponseError{Reason: "missing spectrogramData"}
	}

	samples := make([]spectrum.Sample, len(*wr.SpectrogramData))
	for i, ws := range *wr.SpectrogramData {
		switch {
		case ws.Time == nil:
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("sample %d: missing time", i)}
		case ws.Frequency == nil:
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("sample %d: missing frequency", i)}
		case ws.Amplitude == nil:
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("sample %d: missing amplitude", i)}
		}

		samples[i] = spectrum.Sample{
			Time:      *ws.Time,
			Frequency: *ws.Frequency,
			Amplitude: *ws.Amplitude,
		}
	}

	return samples, nil
}
