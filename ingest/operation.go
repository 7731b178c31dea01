// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ingest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/molecula/aws-bill-analysis/condition"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

// Supported bulk operation types.
const (
	OpIndex  = "index"
	OpCreate = "create"
	OpUpdate = "update"
)

// ValidOpType reports whether opType can be used for bulk writes.
func ValidOpType(opType string) bool {
	switch opType {
	case OpIndex, OpCreate, OpUpdate:
		return true
	}
	return false
}

// Operation is a single write of one document into the index store. An
// empty ID lets the store assign one.
type Operation struct {
	OpType   string
	Index    string
	ID       string
	Document condition.Record
}

type actionMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id,omitempty"`
}

// AppendNDJSON appends the operation as bulk request lines: the action line
// followed by the document source, each terminated by a newline.
func (op Operation) AppendNDJSON(buf *bytes.Buffer) error {
	action, err := json.Marshal(map[string]actionMeta{op.OpType: {Index: op.Index, ID: op.ID}})
	if err != nil {
		return errors.Wrap(err, "encoding action")
	}
	var source interface{} = op.Document
	if op.OpType == OpUpdate {
		source = map[string]interface{}{"doc": op.Document, "doc_as_upsert": true}
	}
	doc, err := json.Marshal(source)
	if err != nil {
		return errors.Wrapf(err, "encoding document %s", op.ID)
	}
	buf.Grow(len(action) + len(doc) + 2)
	buf.Write(action)
	buf.WriteByte('\n')
	buf.Write(doc)
	buf.WriteByte('\n')
	return nil
}

// String identifies the operation in logs.
func (op Operation) String() string {
	id := op.ID
	if id == "" {
		id = "<auto>"
	}
	return op.OpType + " " + op.Index + "/" + id
}

// fallbackID derives a stable document id from a record's content.
func fallbackID(rec condition.Record) string {
	h := blake3.New()
	for _, k := range rec.Keys() {
		h.Write([]byte(k))
		h.Write([]byte{0})
		switch v := rec[k].(type) {
		case time.Time:
			h.Write([]byte(v.UTC().Format(time.RFC3339Nano)))
		case nil:
		default:
			fmt.Fprint(h, v)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
