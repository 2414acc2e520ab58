package hat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hubofallthings/hatsync/internal/records"
	appErrors "github.com/hubofallthings/hatsync/pkg/errors"
	"github.com/hubofallthings/hatsync/pkg/logger"
	"github.com/hubofallthings/hatsync/pkg/metrics"
)

// RecordSource returns raw records for a table. Client implements it.
type RecordSource interface {
	Fetch(ctx context.Context, res Resource, token string, opts FetchOptions) (RawPage, error)
}

// Provisioner creates missing tables. Client implements it.
type Provisioner interface {
	CreateTable(ctx context.Context, res Resource, schema records.TableSchema, token string) (string, error)
}

// Page is a decoded fetch result.
type Page[T any] struct {
	Items   []T
	Skipped int
	Token   string
}

// TypedFetcher decodes raw records with a codec, skipping the ones that do not match the schema.
type TypedFetcher[T any] struct {
	source   RecordSource
	codec    records.Codec[T]
	typeName string
	opts     FetchOptions
}

// NewTypedFetcher builds a fetcher for one record type.
func NewTypedFetcher[T any](source RecordSource, codec records.Codec[T], typeName string, opts FetchOptions) *TypedFetcher[T] {
	return &TypedFetcher[T]{
		source:   source,
		codec:    codec,
		typeName: typeName,
		opts:     opts,
	}
}

// maxPages bounds a single fetch against a HAT that ignores skip.
const maxPages = 10000

// Fetch reads and decodes the whole table, advancing skip until a short page arrives. A
// renewed token is used for the following pages. Malformed records are skipped and counted;
// if every one of a non-empty response is malformed the fetch fails with ErrDecode.
func (f *TypedFetcher[T]) Fetch(ctx context.Context, res Resource, token string) (Page[T], error) {
	page := Page[T]{Items: []T{}}
	log := logger.WithModule("hat").With(zap.String("type", f.typeName))

	opts := f.opts
	current := token
	total := 0
	for pages := 0; ; pages++ {
		if pages == maxPages {
			return Page[T]{Token: page.Token, Skipped: page.Skipped},
				appErrors.ErrDecode.WithInternal(fmt.Errorf("table did not end after %d pages", maxPages))
		}

		raw, err := f.source.Fetch(ctx, res, current, opts)
		if raw.Token != "" {
			page.Token = raw.Token
			current = raw.Token
		}
		if err != nil {
			return Page[T]{Token: page.Token, Skipped: page.Skipped}, err
		}

		total += len(raw.Records)
		for _, record := range raw.Records {
			item, err := f.codec.Decode(record.Data)
			if err != nil {
				page.Skipped++
				log.Debug("skipping malformed record",
					zap.String("record_id", record.RecordID),
					zap.Error(err),
				)
				continue
			}
			page.Items = append(page.Items, item)
		}

		if raw.Take <= 0 || len(raw.Records) < raw.Take {
			break
		}
		opts.Skip += len(raw.Records)
		log.Debug("fetching next page", zap.Int("skip", opts.Skip))
	}

	if page.Skipped > 0 {
		metrics.DecodeSkipped.WithLabelValues(f.typeName).Add(float64(page.Skipped))
		log.Warn("skipped malformed records",
			zap.Int("skipped", page.Skipped),
			zap.Int("decoded", len(page.Items)),
		)
	}

	if total > 0 && len(page.Items) == 0 {
		return Page[T]{Token: page.Token, Skipped: page.Skipped},
			appErrors.ErrDecode.WithInternal(fmt.Errorf("all %d records failed to decode", total))
	}

	return page, nil
}
