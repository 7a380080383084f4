//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

// Package ingest provides high level data ingestion into Aquila tables.
//
// An Ingestor routes each payload to one of two paths: small payloads are
// pushed straight into the cluster through the streaming ingestion endpoint,
// large ones are staged as blobs and enqueued for the cluster's batching
// pipeline. Applications do not choose the path, the Ingestor sizes each
// payload and picks the cheaper one, falling back to the queued path when
// the cluster refuses to stream.
package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aquiladata/aquila-go-sdk/aquiladb"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/aquilaerr"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/logger"
)

// Kind identifies the ingestion path a payload was routed to.
type Kind string

const (
	// Streaming pushes the payload directly into the target table through
	// the cluster node that receives the request.
	Streaming Kind = "Streaming"

	// Queued stages the payload in blob storage and enqueues it for the
	// cluster's batching pipeline.
	Queued Kind = "Queued"
)

// StreamingCeiling is the largest uncompressed payload routed to the
// streaming path. Payloads at or above this size always take the queued
// path.
const StreamingCeiling int64 = 4 * 1024 * 1024

// chooseIngestionKind decides the ingestion path for a payload of the
// specified uncompressed size. The decision depends on nothing but its
// arguments.
func chooseIngestionKind(sizeBytes int64, streamingEligible bool) Kind {
	if !streamingEligible || sizeBytes >= StreamingCeiling {
		return Queued
	}
	return Streaming
}

// Source is one payload to ingest.
type Source struct {
	// Format is the data format, such as "csv" or "json".
	Format string

	// Compressed indicates the payload bytes are gzip compressed.
	Compressed bool

	// SizeBytes is the uncompressed payload size, used to route the
	// payload. For compressed payloads whose original size is unknown it
	// is an estimate.
	SizeBytes int64

	// SourceID identifies the payload across retries and in status
	// reports. A fresh id is assigned if left empty.
	SourceID string

	data []byte
}

// FromBytes creates a Source over the specified payload in the specified
// format.
func FromBytes(data []byte, format string) *Source {
	return &Source{
		Format:    format,
		SizeBytes: int64(len(data)),
		data:      data,
	}
}

// FromReader creates a Source by reading the payload from r.
func FromReader(r io.Reader, format string) (*Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, aquilaerr.NewWithCause(aquilaerr.ClientKind, err, "cannot read ingestion payload")
	}
	return FromBytes(data, format), nil
}

// FromFile creates a Source from the specified file. The format is derived
// from the file extension and a ".gz" suffix marks the payload compressed.
func FromFile(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, aquilaerr.NewWithCause(aquilaerr.ClientKind, err, "cannot read ingestion file %q", path)
	}

	name := path
	compressed := false
	if strings.HasSuffix(name, ".gz") {
		compressed = true
		name = strings.TrimSuffix(name, ".gz")
	}

	format := strings.TrimPrefix(filepath.Ext(name), ".")
	if format == "" {
		return nil, aquilaerr.NewIllegalArgument("cannot derive a data format from file %q", path)
	}

	src := FromBytes(data, format)
	src.Compressed = compressed
	if compressed {
		// The routing decision needs the uncompressed size; estimate it
		// from the usual text compression ratio.
		src.SizeBytes = int64(len(data)) * 5
	}
	return src, nil
}

// Properties specifies optional details of an ingestion.
type Properties struct {
	// MappingReference names a pre-created ingestion mapping on the target
	// table.
	MappingReference string

	// Tracking requests per-payload status reporting for queued
	// ingestion, so the operation can be observed with OperationStatus and
	// PollForCompletion.
	Tracking bool

	// Timeout overrides the client's streaming ingestion timeout.
	Timeout time.Duration
}

// Operation describes an accepted ingestion.
type Operation struct {
	// OperationID identifies the ingestion for status tracking.
	OperationID string

	// Database and Table name the target of the ingestion.
	Database string
	Table    string

	// Kind is the path the payload was routed to.
	Kind Kind

	// CreatedAt is when the ingestion was accepted.
	CreatedAt time.Time
}

// StatementClient is the subset of the aquiladb.Client surface the Ingestor
// uses.
type StatementClient interface {
	StreamIngest(ctx context.Context, database, table string, data []byte, opt aquiladb.StreamIngestOptions) error
	Mgmt(ctx context.Context, database, statement string, options ...aquiladb.RequestOption) (*aquiladb.OperationResult, error)
}

// IngestorOptions configures an Ingestor.
type IngestorOptions struct {
	// StreamingEligible decides whether a payload may take the streaming
	// path at all, independent of its size. If nil, every payload is
	// eligible. Applications use this to force the queued path for
	// sources that must survive client restarts.
	StreamingEligible func(src *Source) bool

	// Logger specifies the logger used by the Ingestor.
	// If not set, logger.DefaultLogger is used.
	Logger *logger.Logger
}

// Ingestor routes payloads into one table's ingestion pipeline.
//
// An Ingestor is safe for concurrent use.
type Ingestor struct {
	client   StatementClient
	store    BlobStore
	eligible func(src *Source) bool
	logger   *logger.Logger
}

// NewIngestor creates an Ingestor that ingests through the specified client
// and stages queued payloads in the specified blob store. The store may be
// nil, in which case the queued path is unavailable and oversized payloads
// are rejected.
//
// This is a variadic function that may be invoked with zero or more
// arguments for the options parameter, but only the first argument for the
// options parameter, if specified, is used, others are ignored.
func NewIngestor(client StatementClient, store BlobStore, options ...IngestorOptions) (*Ingestor, error) {
	if client == nil {
		return nil, aquilaerr.NewIllegalArgument("client must be non-nil")
	}

	ing := &Ingestor{
		client:   client,
		store:    store,
		eligible: func(*Source) bool { return true },
		logger:   logger.DefaultLogger,
	}

	if len(options) > 0 {
		if options[0].StreamingEligible != nil {
			ing.eligible = options[0].StreamingEligible
		}
		if options[0].Logger != nil {
			ing.logger = options[0].Logger
		}
	}

	return ing, nil
}

// Ingest routes the payload into the specified table.
//
// Small eligible payloads are streamed; if the cluster refuses the stream
// because streaming ingestion is disabled or the payload turns out too
// large, the payload is re-routed to the queued path and the error is not
// surfaced. All other streaming failures are reported to the caller.
func (ing *Ingestor) Ingest(ctx context.Context, database, table string, src *Source, props Properties) (*Operation, error) {
	if ctx == nil {
		return nil, aquilaerr.NewIllegalArgument("nil context")
	}
	if src == nil || len(src.data) == 0 {
		return nil, aquilaerr.NewIllegalArgument("source must be non-nil and non-empty")
	}

	if src.SourceID == "" {
		src.SourceID = uuid.NewString()
	}

	kind := chooseIngestionKind(src.SizeBytes, ing.eligible(src))
	if kind == Streaming {
		op, err := ing.streamIngest(ctx, database, table, src, props)
		if err == nil {
			return op, nil
		}
		if !shouldFallback(err) || ing.store == nil {
			return nil, err
		}
		ing.logger.Info("streaming ingestion refused for source %s, falling back to queued: %v",
			src.SourceID, err)
	}

	return ing.queuedIngest(ctx, database, table, src, props)
}

func (ing *Ingestor) streamIngest(ctx context.Context, database, table string, src *Source, props Properties) (*Operation, error) {
	data := src.data
	compressed := src.Compressed
	if !compressed {
		gz, err := gzipBytes(data)
		if err != nil {
			return nil, err
		}
		data = gz
		compressed = true
	}

	err := ing.client.StreamIngest(ctx, database, table, data, aquiladb.StreamIngestOptions{
		Format:          src.Format,
		MappingName:     props.MappingReference,
		Compressed:      compressed,
		ClientRequestID: "AQG.streamIngest;" + src.SourceID,
		Timeout:         props.Timeout,
	})
	if err != nil {
		return nil, err
	}

	return &Operation{
		OperationID: src.SourceID,
		Database:    database,
		Table:       table,
		Kind:        Streaming,
		CreatedAt:   time.Now(),
	}, nil
}

func (ing *Ingestor) queuedIngest(ctx context.Context, database, table string, src *Source, props Properties) (*Operation, error) {
	if ing.store == nil {
		return nil, aquilaerr.NewIllegalArgument(
			"payload of %d bytes requires queued ingestion but no blob store is configured", src.SizeBytes)
	}

	data := src.data
	compressed := src.Compressed
	if !compressed {
		gz, err := gzipBytes(data)
		if err != nil {
			return nil, err
		}
		data = gz
		compressed = true
	}

	blobName := fmt.Sprintf("%s_%s_%s.%s.gz", database, table, src.SourceID, src.Format)
	blobURI, err := ing.store.Upload(ctx, blobName, data)
	if err != nil {
		return nil, err
	}

	notice := Notice{
		ID:               src.SourceID,
		BlobPath:         blobURI,
		RawDataSize:      src.SizeBytes,
		Database:         database,
		Table:            table,
		Format:           src.Format,
		MappingReference: props.MappingReference,
		ReportMethod:     reportMethod(props.Tracking),
	}

	if err = ing.store.Enqueue(ctx, &notice); err != nil {
		return nil, err
	}

	ing.logger.Debug("queued ingestion %s staged at %s", src.SourceID, blobURI)

	return &Operation{
		OperationID: src.SourceID,
		Database:    database,
		Table:       table,
		Kind:        Queued,
		CreatedAt:   time.Now(),
	}, nil
}

// shouldFallback reports whether a streaming ingestion failure should be
// retried on the queued path. The cluster refuses a stream with a permanent
// error naming the condition; transient failures are not re-routed since
// the retry handler already dealt with them.
func shouldFallback(err error) bool {
	e, ok := err.(*aquilaerr.Error)
	if !ok {
		return false
	}
	if e.Kind != aquilaerr.ServiceKind {
		return false
	}

	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "streaming ingestion is disabled") ||
		strings.Contains(msg, "entity too large") ||
		strings.Contains(msg, "exceeds the limit")
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, aquilaerr.NewWithCause(aquilaerr.ClientKind, err, "cannot compress payload")
	}
	if err := zw.Close(); err != nil {
		return nil, aquilaerr.NewWithCause(aquilaerr.ClientKind, err, "cannot compress payload")
	}
	return buf.Bytes(), nil
}
