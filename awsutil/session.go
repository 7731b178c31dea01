// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package awsutil builds the AWS session shared by the S3, Organizations and
// SQS clients.
package awsutil

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/molecula/aws-bill-analysis/logger"
	"github.com/pkg/errors"
)

// Config selects the credentials and region for a session. Empty fields fall
// back to the SDK's default chain (environment, shared config, instance role).
type Config struct {
	Profile    string
	Region     string
	MaxRetries int
}

// NewSession creates an AWS session from cfg.
func NewSession(cfg Config, log logger.Logger) (*session.Session, error) {
	if log == nil {
		log = logger.NopLogger
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 10
	}
	config := &aws.Config{
		// retry on ephemeral AWS errors
		Retryer: client.DefaultRetryer{NumMaxRetries: retries},
	}
	if cfg.Profile != "" {
		log.Debugf("Creating AWS session with profile %s", cfg.Profile)
		config.Credentials = credentials.NewSharedCredentials("", cfg.Profile)
	}
	if cfg.Region != "" {
		log.Debugf("Overriding default AWS region: %s", cfg.Region)
		config.Region = aws.String(cfg.Region)
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *config,
		Profile:           cfg.Profile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating AWS session")
	}
	return sess, nil
}
