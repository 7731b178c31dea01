// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package accounts loads the account reference table used to enrich billing
// records with organizational metadata.
package accounts

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/organizations"
	"github.com/aws/aws-sdk-go/service/organizations/organizationsiface"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/molecula/aws-bill-analysis/logger"
	"github.com/molecula/aws-bill-analysis/objectstore"
	"github.com/pkg/errors"
)

// Account is one entry of the reference table.
type Account struct {
	ID        string            `json:"Id"`
	Arn       string            `json:"Arn,omitempty"`
	Name      string            `json:"Name"`
	Email     string            `json:"Email,omitempty"`
	Status    string            `json:"Status,omitempty"`
	Customer  string            `json:"Customer"`
	Ownership string            `json:"Ownership"`
	Tags      map[string]string `json:"Tags,omitempty"`
}

// Table maps an account id to its Account. A Table is filled once before
// ingestion starts and is only read afterwards, so it may be shared by any
// number of goroutines.
type Table map[string]Account

// Lookup returns the account for id.
func (t Table) Lookup(id string) (Account, bool) {
	a, ok := t[id]
	return a, ok
}

// Merge returns a new table holding the entries of t, overridden by those of
// other.
func (t Table) Merge(other Table) Table {
	out := make(Table, len(t)+len(other))
	for id, a := range t {
		out[id] = a
	}
	for id, a := range other {
		out[id] = a
	}
	return out
}

// Source loads a whole reference table.
type Source interface {
	FetchAll(ctx context.Context) (Table, error)
}

// Default tag keys read from each account by OrganizationsSource.
const (
	DefaultCustomerTag  = "Customer"
	DefaultOwnershipTag = "Ownership"
)

// OrganizationsSource lists the accounts of an AWS organization. Customer and
// Ownership are taken from each account's tags.
type OrganizationsSource struct {
	Client       organizationsiface.OrganizationsAPI
	CustomerTag  string
	OwnershipTag string
	Log          logger.Logger
}

// NewOrganizationsSource returns a source reading the default tag keys.
func NewOrganizationsSource(client organizationsiface.OrganizationsAPI, log logger.Logger) *OrganizationsSource {
	if log == nil {
		log = logger.NopLogger
	}
	return &OrganizationsSource{
		Client:       client,
		CustomerTag:  DefaultCustomerTag,
		OwnershipTag: DefaultOwnershipTag,
		Log:          log,
	}
}

// FetchAll implements Source.
func (s *OrganizationsSource) FetchAll(ctx context.Context) (Table, error) {
	s.Log.Infof("Getting information about AWS accounts")
	var accounts []*organizations.Account
	err := s.Client.ListAccountsPagesWithContext(ctx, &organizations.ListAccountsInput{},
		func(page *organizations.ListAccountsOutput, lastPage bool) bool {
			accounts = append(accounts, page.Accounts...)
			return true
		})
	if err != nil {
		return nil, errors.Wrap(err, "listing organization accounts")
	}

	table := make(Table, len(accounts))
	for _, acct := range accounts {
		a := Account{
			ID:     aws.StringValue(acct.Id),
			Arn:    aws.StringValue(acct.Arn),
			Name:   aws.StringValue(acct.Name),
			Email:  aws.StringValue(acct.Email),
			Status: aws.StringValue(acct.Status),
		}
		if err := s.augment(ctx, &a); err != nil {
			return nil, err
		}
		table[a.ID] = a
	}
	s.Log.Debugf("Loaded %d accounts", len(table))
	return table, nil
}

// augment fills the tag-derived fields of a.
func (s *OrganizationsSource) augment(ctx context.Context, a *Account) error {
	a.Tags = make(map[string]string)
	input := &organizations.ListTagsForResourceInput{ResourceId: aws.String(a.ID)}
	for {
		out, err := s.Client.ListTagsForResourceWithContext(ctx, input)
		if err != nil {
			return errors.Wrapf(err, "listing tags of account %s", a.ID)
		}
		for _, tag := range out.Tags {
			a.Tags[aws.StringValue(tag.Key)] = aws.StringValue(tag.Value)
		}
		if aws.StringValue(out.NextToken) == "" {
			break
		}
		input.NextToken = out.NextToken
	}
	a.Customer = a.Tags[s.CustomerTag]
	a.Ownership = a.Tags[s.OwnershipTag]
	return nil
}

// FileSource reads a table from a JSON document on the local filesystem or
// S3, shaped as {"<account id>": {"Name": ..., "Customer": ..., "Ownership": ...}}.
type FileSource struct {
	Path     string
	S3Client s3iface.S3API
}

// FetchAll implements Source.
func (s FileSource) FetchAll(ctx context.Context) (Table, error) {
	data, err := objectstore.ReadFileOrURL(ctx, s.Path, s.S3Client)
	if err != nil {
		return nil, errors.Wrap(err, "reading accounts file")
	}
	table := Table{}
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, errors.Wrapf(err, "decoding accounts file %s", s.Path)
	}
	for id, a := range table {
		if a.ID == "" {
			a.ID = id
			table[id] = a
		}
	}
	return table, nil
}

// MultiSource merges the tables of several sources; later sources win.
type MultiSource []Source

// FetchAll implements Source.
func (ms MultiSource) FetchAll(ctx context.Context) (Table, error) {
	table := Table{}
	for _, s := range ms {
		t, err := s.FetchAll(ctx)
		if err != nil {
			return nil, err
		}
		table = table.Merge(t)
	}
	return table, nil
}
