package fakestore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/andresuchdata/catalog-export/internal/domain"
	"github.com/andresuchdata/catalog-export/pkg/logger"
)

const opFetch = "fetch products"

// Config describes the catalog endpoint.
type Config struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// Client fetches the product catalog with a single GET.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. The configured timeout is
// not applied to a replaced client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a catalog client. A zero timeout means no timeout.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchProducts downloads the catalog and returns it as a table, one row per
// array element in response order.
func (c *Client) FetchProducts(ctx context.Context) (*domain.ProductTable, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, domain.E(domain.KindConfig, opFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.E(domain.KindNetwork, opFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, domain.Errorf(domain.KindNetwork, opFetch,
			"unexpected status %d from %s: %s", resp.StatusCode, c.cfg.URL, strings.TrimSpace(string(snippet)))
	}

	body := &bodyReader{r: resp.Body}
	table, err := DecodeTable(body)
	if err != nil {
		// A connection dropped mid-body surfaces as a read error, not bad JSON.
		if body.err != nil {
			return nil, domain.E(domain.KindNetwork, opFetch, errors.Wrap(body.err, "read response body"))
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.E(domain.KindNetwork, opFetch, err)
		}
		return nil, domain.E(domain.KindSerialization, opFetch, err)
	}

	logger.Log.Debug().
		Str("url", c.cfg.URL).
		Int("status", resp.StatusCode).
		Int("rows", table.Len()).
		Dur("latency", time.Since(start)).
		Msg("catalog fetched")

	return table, nil
}

// DecodeTable reads a JSON array of objects. Object key order is kept so the
// table columns follow the order the API sends them in.
func DecodeTable(r io.Reader) (*domain.ProductTable, error) {
	dec := json.NewDecoder(r)
	table := domain.NewProductTable()

	if err := expectDelim(dec, '['); err != nil {
		return nil, errors.Wrap(err, "expected a json array")
	}

	for i := 0; dec.More(); i++ {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, errors.Wrapf(err, "element %d is not an object", i)
		}

		rec := make(domain.ProductRecord)
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, errors.Wrapf(err, "element %d", i)
			}
			key, ok := tok.(string)
			if !ok {
				return nil, errors.Errorf("element %d: unexpected token %v", i, tok)
			}

			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, errors.Wrapf(err, "element %d field %q", i, key)
			}
			rec[key] = raw
			table.AddColumn(key)
		}

		if err := expectDelim(dec, '}'); err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
		table.Append(rec)
	}

	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after json array")
	}

	return table, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return errors.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// bodyReader remembers the first transport error, so a truncated transfer is
// told apart from a complete body holding invalid JSON.
type bodyReader struct {
	r   io.Reader
	err error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF && b.err == nil {
		b.err = err
	}
	return n, err
}
