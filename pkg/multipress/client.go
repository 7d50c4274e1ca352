// Package multipress provides a client for the MultiPress connector API,
// the quotation system that is the source of truth for sales status.
package multipress

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultTimeout = 30 * time.Second

// Client defines the MultiPress operations used by the reconciliation
// engine. The connector only offers reads.
type Client interface {
	// QuotationDetails looks up the live status of one quotation.
	QuotationDetails(ctx context.Context, quotationNumber string) (*QuotationDetails, error)
}

// QuotationDetails is the connector's answer for one quotation number.
// Status is a free-form Dutch label such as "Order" or "Vervallen".
type QuotationDetails struct {
	Status  string `json:"quotation_status"`
	Company string `json:"company"`
}

type httpClient struct {
	baseURL  string
	username string
	password string
	timeout  time.Duration
	insecure bool
	http     *http.Client
}

// Option configures the client.
type Option func(*httpClient)

// WithTimeout bounds each lookup. A quotation that takes longer than this is
// reported as a lookup error, not waited for.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.timeout = d
	}
}

// WithInsecureTLS skips certificate verification. The production connector
// sits behind a self-signed certificate.
func WithInsecureTLS() Option {
	return func(c *httpClient) {
		c.insecure = true
	}
}

// WithHTTPClient replaces the underlying HTTP client, overriding the timeout
// and TLS options.
func WithHTTPClient(client *http.Client) Option {
	return func(c *httpClient) {
		c.http = client
	}
}

// NewClient creates a MultiPress connector client with basic auth
// credentials.
func NewClient(baseURL, username, password string, opts ...Option) Client {
	c := &httpClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		transport := &http.Transport{
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		}
		if c.insecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		c.http = &http.Client{
			Timeout:   c.timeout,
			Transport: transport,
		}
	}
	return c
}

func (c *httpClient) QuotationDetails(ctx context.Context, quotationNumber string) (*QuotationDetails, error) {
	reqURL := c.baseURL + "/jobs/handleJobsQuotationsDetails?quotation_number=" + url.QueryEscape(quotationNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "multipress: create request")
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "multipress: lookup quotation %s", quotationNumber)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "multipress: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("multipress: unexpected status %d: %s", resp.StatusCode, string(data))
	}

	var details QuotationDetails
	if err := json.Unmarshal(data, &details); err != nil {
		return nil, eris.Wrap(err, "multipress: decode response")
	}
	return &details, nil
}
