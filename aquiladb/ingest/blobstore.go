//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/google/uuid"

	"github.com/aquiladata/aquila-go-sdk/aquiladb/aquilaerr"
)

// Notice is the message that tells the cluster's batching pipeline to pick
// up a staged blob.
type Notice struct {
	ID               string `json:"Id"`
	BlobPath         string `json:"BlobPath"`
	RawDataSize      int64  `json:"RawDataSize"`
	Database         string `json:"DatabaseName"`
	Table            string `json:"TableName"`
	Format           string `json:"Format,omitempty"`
	MappingReference string `json:"IngestionMappingReference,omitempty"`
	ReportMethod     int    `json:"ReportMethod"`
	RetainBlob       bool   `json:"RetainBlobOnSuccess"`
}

// Report methods announced in a queued notice.
const (
	reportToNone  = 0
	reportToTable = 1
)

func reportMethod(tracking bool) int {
	if tracking {
		return reportToTable
	}
	return reportToNone
}

// BlobStore stages payloads for queued ingestion and delivers pickup
// notices to the batching pipeline.
type BlobStore interface {
	// Upload stores the payload under the specified name and returns the
	// URI the cluster can read it from.
	Upload(ctx context.Context, name string, data []byte) (string, error)

	// Enqueue delivers a pickup notice for a previously uploaded payload.
	Enqueue(ctx context.Context, notice *Notice) error

	// Close releases resources held by the store.
	Close() error
}

// Container names used by a ContainerStore within its storage account.
const (
	stagingContainer = "ingest-staging"
	noticeContainer  = "ingest-queue"
)

// ContainerStore is a BlobStore backed by an Azure blob storage account.
// Payloads are staged in one container and pickup notices written to
// another, where the cluster's batching pipeline scans for them.
type ContainerStore struct {
	client *azblob.Client
	prefix string
}

// NewContainerStore creates a ContainerStore over the specified storage
// client. The prefix, if non-empty, namespaces all blobs written by this
// store.
func NewContainerStore(client *azblob.Client, prefix string) (*ContainerStore, error) {
	if client == nil {
		return nil, aquilaerr.NewIllegalArgument("storage client must be non-nil")
	}

	prefix = strings.Trim(prefix, "/")
	return &ContainerStore{client: client, prefix: prefix}, nil
}

// Upload stores the payload in the staging container and returns its URI.
func (s *ContainerStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	blobName := s.blobName(name)
	_, err := s.client.UploadBuffer(ctx, stagingContainer, blobName, data, nil)
	if err != nil {
		return "", aquilaerr.NewWithCause(aquilaerr.ClientKind, err,
			"cannot upload payload %q to the staging container", name)
	}

	return fmt.Sprintf("%s%s/%s", s.client.URL(), stagingContainer, blobName), nil
}

// Enqueue writes the pickup notice to the notice container. Notice names
// embed the time so the pipeline scans them in arrival order.
func (s *ContainerStore) Enqueue(ctx context.Context, notice *Notice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return aquilaerr.NewWithCause(aquilaerr.ClientKind, err, "cannot serialize pickup notice")
	}

	name := s.blobName(fmt.Sprintf("%d_%s.json", time.Now().UnixNano(), uuid.NewString()))
	_, err = s.client.UploadBuffer(ctx, noticeContainer, name, data, nil)
	if err != nil {
		return aquilaerr.NewWithCause(aquilaerr.ClientKind, err,
			"cannot deliver pickup notice for ingestion %s", notice.ID)
	}

	return nil
}

// Close releases resources held by the store.
func (s *ContainerStore) Close() error {
	return nil
}

func (s *ContainerStore) blobName(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}
