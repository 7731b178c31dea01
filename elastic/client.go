// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package elastic is the Elasticsearch index store: bulk writes for the
// ingest engine and index housekeeping for the command line.
package elastic

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/molecula/aws-bill-analysis/ingest"
	"github.com/molecula/aws-bill-analysis/logger"
	"github.com/pkg/errors"
)

// Config holds the connection settings of an Elasticsearch cluster.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	// Insecure skips TLS certificate verification.
	Insecure bool
	// MaxRetries is how often the transport retries a request which failed
	// to connect or was answered with a 5xx status.
	MaxRetries int
}

// Address returns the cluster URL. Plain hostnames are reached over https.
func (c Config) Address() string {
	if strings.HasPrefix(c.Host, "http://") || strings.HasPrefix(c.Host, "https://") {
		return c.Host
	}
	if c.Port == "" {
		return "https://" + c.Host
	}
	return "https://" + net.JoinHostPort(c.Host, c.Port)
}

// Client talks to one Elasticsearch cluster.
type Client struct {
	es  *elasticsearch.Client
	log logger.Logger
}

// Ensure Client can serve as the engine's store.
var _ ingest.Store = &Client{}

// NewClient returns a client for the cluster described by cfg. Requests go
// through a retrying transport.
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.NopLogger
	}
	if cfg.Host == "" {
		return nil, errors.New("no Elasticsearch host given")
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.Logger = debugPrinter{log}
	// Hand the last response back instead of an error, so that the bulk
	// status can be inspected.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.Insecure {
		if t, ok := rc.HTTPClient.Transport.(*http.Transport); ok {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		}
	}

	log.Infof("Authenticating to Elasticsearch at %s using credentials", cfg.Address())
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{cfg.Address()},
		Username:     cfg.User,
		Password:     cfg.Password,
		Transport:    &retryablehttp.RoundTripper{Client: rc},
		DisableRetry: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating Elasticsearch client")
	}
	return &Client{es: es, log: log}, nil
}

// debugPrinter sends transport logs to the debug level.
type debugPrinter struct {
	log logger.Logger
}

func (p debugPrinter) Printf(format string, v ...interface{}) {
	p.log.Debugf(format, v...)
}

// retryableStatus reports whether an operation rejected with status may
// succeed later.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

type bulkResponse struct {
	Errors bool                      `json:"errors"`
	Items  []map[string]bulkItemInfo `json:"items"`
}

type bulkItemInfo struct {
	Index  string     `json:"_index"`
	ID     string     `json:"_id"`
	Status int        `json:"status"`
	Error  *errorInfo `json:"error,omitempty"`
}

type errorInfo struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (e *errorInfo) String() string {
	if e == nil {
		return ""
	}
	return e.Type + ": " + e.Reason
}

// Bulk implements ingest.Store. Operations whose document cannot be encoded
// are failed without being sent.
func (c *Client) Bulk(ctx context.Context, ops []ingest.Operation) ([]ingest.Result, error) {
	results := make([]ingest.Result, len(ops))
	sent := make([]int, 0, len(ops))
	body := &bytes.Buffer{}
	for i, op := range ops {
		if err := op.AppendNDJSON(body); err != nil {
			results[i] = ingest.Result{Error: err.Error()}
			continue
		}
		sent = append(sent, i)
	}
	if len(sent) == 0 {
		return results, nil
	}

	res, err := c.es.Bulk(bytes.NewReader(body.Bytes()), c.es.Bulk.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "sending bulk request")
	}
	defer res.Body.Close()

	if res.IsError() {
		err := responseError(res)
		if retryableStatus(res.StatusCode) {
			return nil, &ingest.TransientError{Err: err}
		}
		return nil, err
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return nil, errors.Wrap(err, "decoding bulk response")
	}
	if len(br.Items) != len(sent) {
		return nil, errors.Errorf("bulk response has %d items for %d operations", len(br.Items), len(sent))
	}
	for j, item := range br.Items {
		for _, info := range item {
			results[sent[j]] = ingest.Result{
				Status:    info.Status,
				Error:     info.Error.String(),
				Retryable: retryableStatus(info.Status),
			}
		}
	}
	return results, nil
}

// responseError describes an error response.
func responseError(res *esapi.Response) error {
	var body struct {
		Error *errorInfo `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if json.Unmarshal(data, &body) == nil && body.Error != nil {
		return errors.Errorf("%s: %s", res.Status(), body.Error)
	}
	return errors.Errorf("%s: %s", res.Status(), strings.TrimSpace(string(data)))
}

// Index describes one index of the cluster.
type Index struct {
	Name      string
	Health    string
	Status    string
	Docs      int64
	StoreSize string
	Created   time.Time
}

type catIndex struct {
	Index        string `json:"index"`
	Health       string `json:"health"`
	Status       string `json:"status"`
	DocsCount    string `json:"docs.count"`
	StoreSize    string `json:"store.size"`
	CreationDate string `json:"creation.date"`
}

// ListIndices returns the indices matching pattern, sorted by name. A
// maxAge above zero keeps only indices created within maxAge of now.
func (c *Client) ListIndices(ctx context.Context, pattern string, maxAge time.Duration, now time.Time) ([]Index, error) {
	if pattern == "" {
		pattern = "*"
	}
	res, err := c.es.Cat.Indices(
		c.es.Cat.Indices.WithContext(ctx),
		c.es.Cat.Indices.WithIndex(pattern),
		c.es.Cat.Indices.WithFormat("json"),
		c.es.Cat.Indices.WithH("index", "health", "status", "docs.count", "store.size", "creation.date"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "listing indices")
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, errors.Wrapf(responseError(res), "listing indices matching %s", pattern)
	}

	var rows []catIndex
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return nil, errors.Wrap(err, "decoding index list")
	}
	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = now.Add(-maxAge)
	}
	indices := make([]Index, 0, len(rows))
	for _, row := range rows {
		idx := Index{Name: row.Index, Health: row.Health, Status: row.Status, StoreSize: row.StoreSize}
		idx.Docs, _ = strconv.ParseInt(row.DocsCount, 10, 64)
		if ms, err := strconv.ParseInt(row.CreationDate, 10, 64); err == nil {
			idx.Created = time.UnixMilli(ms).UTC()
		}
		if !cutoff.IsZero() && idx.Created.Before(cutoff) {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i].Name < indices[j].Name })
	return indices, nil
}

// DeleteIndices deletes the named indices one at a time, stopping at the
// first failure.
func (c *Client) DeleteIndices(ctx context.Context, names []string) error {
	for _, name := range names {
		c.log.Infof("Deleting index %s", name)
		res, err := c.es.Indices.Delete([]string{name}, c.es.Indices.Delete.WithContext(ctx))
		if err != nil {
			return errors.Wrapf(err, "deleting index %s", name)
		}
		if res.IsError() {
			err := responseError(res)
			res.Body.Close()
			return errors.Wrapf(err, "deleting index %s", name)
		}
		res.Body.Close()
	}
	return nil
}

func (i Index) String() string {
	return fmt.Sprintf("%s (%d docs)", i.Name, i.Docs)
}
