// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/molecula/aws-bill-analysis/condition"
	"github.com/molecula/aws-bill-analysis/logger"
	"github.com/pkg/errors"
)

// DeadLetter describes an operation which was given up on.
type DeadLetter struct {
	RunID    string           `json:"run_id"`
	Index    string           `json:"index"`
	ID       string           `json:"id,omitempty"`
	Status   int              `json:"status,omitempty"`
	Error    string           `json:"error"`
	Time     string           `json:"time"`
	Document condition.Record `json:"document,omitempty"`
}

// DeadLetterStore is an abstraction over a resource like a queue or a bucket
// that can keep failed operations for later inspection or replay.
type DeadLetterStore interface {
	// Available checks if the backing resource can receive dead letters
	// via Push.
	Available() bool

	// Push stores a single dead letter. The caller should NOT assume that
	// Available is called implicitly.
	Push(ctx context.Context, dl DeadLetter) error
}

// SQSDeadLetters is a DeadLetterStore backed by an SQS queue. Each message
// body is the base64 encoded JSON of a DeadLetter.
type SQSDeadLetters struct {
	runID string
	name  string
	url   string
	queue sqsiface.SQSAPI
	log   logger.Logger
}

// NewSQSDeadLetters resolves the URL of the queue called queueName. On
// failure the returned store is never available, and an error says why.
func NewSQSDeadLetters(ctx context.Context, queue sqsiface.SQSAPI, queueName, runID string, log logger.Logger) (*SQSDeadLetters, error) {
	if log == nil {
		log = logger.NopLogger
	}
	dl := &SQSDeadLetters{runID: runID, name: queueName, log: log}
	if queueName == "" {
		return dl, nil
	}
	out, err := queue.GetQueueUrlWithContext(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err != nil {
		return dl, errors.Wrapf(err, "resolving dead letter queue %s", queueName)
	}
	dl.url = aws.StringValue(out.QueueUrl)
	dl.queue = queue
	return dl, nil
}

// Available checks that a valid SQS queue resource exists.
func (q *SQSDeadLetters) Available() bool {
	return q.url != "" && q.queue != nil
}

// Push implements DeadLetterStore. It is a no-op, with a warning, when the
// queue is not available.
func (q *SQSDeadLetters) Push(ctx context.Context, dl DeadLetter) error {
	if !q.Available() {
		q.log.Warnf("Not pushing dead letter for %s/%s: queue '%s' is unavailable", dl.Index, dl.ID, q.name)
		return nil
	}
	if dl.RunID == "" {
		dl.RunID = q.runID
	}
	if dl.Time == "" {
		dl.Time = time.Now().UTC().Format(time.RFC3339)
	}

	payload, err := json.Marshal(&dl)
	if err != nil {
		// The document itself may be what could not be encoded.
		dl.Document = nil
		if payload, err = json.Marshal(&dl); err != nil {
			return errors.Wrapf(err, "encoding dead letter for %s/%s", dl.Index, dl.ID)
		}
	}

	_, err = q.queue.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		MessageBody: aws.String(base64.URLEncoding.EncodeToString(payload)),
		QueueUrl:    aws.String(q.url),
	})
	if err != nil {
		return errors.Wrapf(err, "sending dead letter to queue %s", q.name)
	}
	return nil
}
