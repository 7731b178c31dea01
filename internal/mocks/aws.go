// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package mocks holds testify mocks for the AWS service clients. Each mock
// embeds the SDK interface, so calling a method that is not mocked here
// panics.
package mocks

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/organizations"
	"github.com/aws/aws-sdk-go/service/organizations/organizationsiface"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/stretchr/testify/mock"
)

// S3API mocks the S3 calls used for reading reports.
type S3API struct {
	s3iface.S3API
	mock.Mock
}

func (m *S3API) GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	ret := m.Called(ctx, input)
	out, _ := ret.Get(0).(*s3.GetObjectOutput)
	return out, ret.Error(1)
}

// ListObjectsV2PagesWithContext feeds each mocked page to fn, in order.
func (m *S3API) ListObjectsV2PagesWithContext(ctx aws.Context, input *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	ret := m.Called(ctx, input)
	pages, _ := ret.Get(0).([]*s3.ListObjectsV2Output)
	for i, page := range pages {
		if !fn(page, i == len(pages)-1) {
			break
		}
	}
	return ret.Error(1)
}

// OrganizationsAPI mocks the Organizations calls used for account lookup.
type OrganizationsAPI struct {
	organizationsiface.OrganizationsAPI
	mock.Mock
}

func (m *OrganizationsAPI) ListAccountsPagesWithContext(ctx aws.Context, input *organizations.ListAccountsInput, fn func(*organizations.ListAccountsOutput, bool) bool, _ ...request.Option) error {
	ret := m.Called(ctx, input)
	pages, _ := ret.Get(0).([]*organizations.ListAccountsOutput)
	for i, page := range pages {
		if !fn(page, i == len(pages)-1) {
			break
		}
	}
	return ret.Error(1)
}

func (m *OrganizationsAPI) ListTagsForResourceWithContext(ctx aws.Context, input *organizations.ListTagsForResourceInput, _ ...request.Option) (*organizations.ListTagsForResourceOutput, error) {
	ret := m.Called(ctx, input)
	out, _ := ret.Get(0).(*organizations.ListTagsForResourceOutput)
	return out, ret.Error(1)
}

// SQSAPI mocks the SQS calls used for dead letters.
type SQSAPI struct {
	sqsiface.SQSAPI
	mock.Mock
}

func (m *SQSAPI) GetQueueUrlWithContext(ctx aws.Context, input *sqs.GetQueueUrlInput, _ ...request.Option) (*sqs.GetQueueUrlOutput, error) {
	ret := m.Called(ctx, input)
	out, _ := ret.Get(0).(*sqs.GetQueueUrlOutput)
	return out, ret.Error(1)
}

func (m *SQSAPI) SendMessageWithContext(ctx aws.Context, input *sqs.SendMessageInput, _ ...request.Option) (*sqs.SendMessageOutput, error) {
	ret := m.Called(ctx, input)
	out, _ := ret.Get(0).(*sqs.SendMessageOutput)
	return out, ret.Error(1)
}
