// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package elastic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/molecula/aws-bill-analysis/condition"
	"github.com/molecula/aws-bill-analysis/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCluster answers the few Elasticsearch endpoints the client uses.
type fakeCluster struct {
	mu      sync.Mutex
	docs    map[string]json.RawMessage
	indices []string
	deleted []string
	// reject, when set, gives the status for the document with that id.
	reject      map[string]int
	bulkStatus  int
	bulkBodies  []string
	authHeaders []string
}

func newFakeCluster(t *testing.T) (*fakeCluster, *Client) {
	t.Helper()
	fc := &fakeCluster{docs: map[string]json.RawMessage{}, reject: map[string]int{}}
	srv := httptest.NewServer(fc)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{Host: srv.URL, User: "elastic", Password: "changeme"}, nil)
	require.NoError(t, err)
	return fc, c
}

func (fc *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	fc.authHeaders = append(fc.authHeaders, r.Header.Get("Authorization"))

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/_bulk":
		fc.bulk(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/_cat/indices"):
		var rows []map[string]string
		for i, name := range fc.indices {
			rows = append(rows, map[string]string{
				"index":         name,
				"health":        "green",
				"status":        "open",
				"docs.count":    fmt.Sprint(10 * (i + 1)),
				"store.size":    "1kb",
				"creation.date": fmt.Sprint(time.Date(2023, 1, 1+i, 0, 0, 0, 0, time.UTC).UnixMilli()),
			})
		}
		_ = json.NewEncoder(w).Encode(rows)
	case r.Method == http.MethodDelete:
		name := strings.TrimPrefix(r.URL.Path, "/")
		if name == "missing" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"type":"index_not_found_exception","reason":"no such index [missing]"},"status":404}`)
			return
		}
		fc.deleted = append(fc.deleted, name)
		fmt.Fprint(w, `{"acknowledged":true}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (fc *fakeCluster) bulk(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	fc.bulkBodies = append(fc.bulkBodies, string(data))
	if fc.bulkStatus != 0 {
		w.WriteHeader(fc.bulkStatus)
		fmt.Fprint(w, `{"error":{"type":"es_rejected_execution_exception","reason":"queue full"},"status":429}`)
		return
	}

	type item struct {
		Index  string                 `json:"_index"`
		ID     string                 `json:"_id"`
		Status int                    `json:"status"`
		Error  map[string]interface{} `json:"error,omitempty"`
	}
	var items []map[string]item
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		var action map[string]struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &action); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		scanner.Scan()
		for opType, meta := range action {
			it := item{Index: meta.Index, ID: meta.ID, Status: http.StatusCreated}
			if status, ok := fc.reject[meta.ID]; ok {
				it.Status = status
				it.Error = map[string]interface{}{"type": "rejected", "reason": "test rejection"}
			} else {
				fc.docs[meta.Index+"/"+meta.ID] = json.RawMessage(append([]byte(nil), scanner.Bytes()...))
			}
			items = append(items, map[string]item{opType: it})
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"took": 1, "errors": len(fc.reject) > 0, "items": items})
}

func ops(n int) []ingest.Operation {
	var out []ingest.Operation
	for i := 0; i < n; i++ {
		out = append(out, ingest.Operation{
			OpType:   ingest.OpIndex,
			Index:    "aws-billing-usage-2023.01.15",
			ID:       fmt.Sprintf("li-%d", i),
			Document: condition.Record{"lineItem/UnblendedCost": float64(i)},
		})
	}
	return out
}

func TestBulk(t *testing.T) {
	fc, c := newFakeCluster(t)
	fc.reject["li-1"] = http.StatusTooManyRequests
	fc.reject["li-3"] = http.StatusBadRequest

	batch := ops(5)
	batch[4].Document = condition.Record{"cost": math.NaN()}

	results, err := c.Bulk(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.True(t, results[0].OK())
	assert.Equal(t, http.StatusTooManyRequests, results[1].Status)
	assert.True(t, results[1].Retryable)
	assert.Equal(t, "rejected: test rejection", results[1].Error)
	assert.True(t, results[2].OK())
	assert.False(t, results[3].OK())
	assert.False(t, results[3].Retryable)
	assert.False(t, results[4].OK())
	assert.NotEmpty(t, results[4].Error)

	assert.Len(t, fc.docs, 2)
	assert.JSONEq(t, `{"lineItem/UnblendedCost":2}`, string(fc.docs["aws-billing-usage-2023.01.15/li-2"]))
	require.Len(t, fc.bulkBodies, 1)
	assert.Equal(t, 4, strings.Count(fc.bulkBodies[0], `"index":{`))
	assert.True(t, strings.HasPrefix(fc.authHeaders[0], "Basic "))
}

func TestBulkRequestRejected(t *testing.T) {
	fc, c := newFakeCluster(t)
	fc.bulkStatus = http.StatusTooManyRequests

	_, err := c.Bulk(context.Background(), ops(2))
	require.Error(t, err)
	assert.True(t, ingest.IsTransient(err))
	assert.Contains(t, err.Error(), "queue full")

	fc.bulkStatus = http.StatusUnauthorized
	_, err = c.Bulk(context.Background(), ops(2))
	require.Error(t, err)
	assert.False(t, ingest.IsTransient(err))
}

func TestBulkThroughEngine(t *testing.T) {
	fc, c := newFakeCluster(t)
	fc.reject["li-7"] = http.StatusBadRequest

	e := ingest.NewEngine(c, nil)
	e.BatchSize = 4
	src := &opSource{}
	for i := 0; i < 10; i++ {
		src.recs = append(src.recs, condition.Record{
			condition.KeyLineItemID: fmt.Sprintf("li-%d", i),
			condition.KeyTimestamp:  time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC),
		})
	}
	sum, err := e.Ingest(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), sum.Succeeded)
	assert.Equal(t, uint64(1), sum.Failed)
	assert.Len(t, fc.bulkBodies, 3)
}

type opSource struct {
	recs []condition.Record
}

func (s *opSource) Record() (condition.Record, error) {
	if len(s.recs) == 0 {
		return nil, io.EOF
	}
	rec := s.recs[0]
	s.recs = s.recs[1:]
	return rec, nil
}

func TestListIndices(t *testing.T) {
	fc, c := newFakeCluster(t)
	fc.indices = []string{"aws-billing-usage-2023.01.02", "aws-billing-usage-2023.01.01", "aws-billing-usage-2023.01.03"}

	indices, err := c.ListIndices(context.Background(), "aws-billing-usage-*", 0, time.Now())
	require.NoError(t, err)
	require.Len(t, indices, 3)
	assert.Equal(t, "aws-billing-usage-2023.01.01", indices[0].Name)
	assert.Equal(t, int64(20), indices[0].Docs)
	assert.Equal(t, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), indices[0].Created)

	now := time.Date(2023, 1, 4, 0, 0, 0, 0, time.UTC)
	indices, err = c.ListIndices(context.Background(), "aws-billing-usage-*", 48*time.Hour, now)
	require.NoError(t, err)
	require.Len(t, indices, 2)
	assert.Equal(t, "aws-billing-usage-2023.01.01", indices[0].Name)
	assert.Equal(t, "aws-billing-usage-2023.01.03", indices[1].Name)
}

func TestDeleteIndices(t *testing.T) {
	fc, c := newFakeCluster(t)
	require.NoError(t, c.DeleteIndices(context.Background(), []string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, fc.deleted)

	err := c.DeleteIndices(context.Background(), []string{"c", "missing", "d"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index_not_found_exception")
	assert.Equal(t, []string{"a", "b", "c"}, fc.deleted)
}

func TestConfigAddress(t *testing.T) {
	assert.Equal(t, "https://es.example.com:9200", Config{Host: "es.example.com", Port: "9200"}.Address())
	assert.Equal(t, "https://es.example.com", Config{Host: "es.example.com"}.Address())
	assert.Equal(t, "http://localhost:9200", Config{Host: "http://localhost:9200", Port: "1"}.Address())

	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)
}
