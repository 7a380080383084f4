//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/aquiladata/aquila-go-sdk/aquiladb"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/aquilaerr"
)

// Status values reported for one ingested payload.
const (
	StatusPending   = "Pending"
	StatusSucceeded = "Succeeded"
	StatusFailed    = "Failed"
	StatusCanceled  = "Canceled"
)

// SourceStatus reports the state of one payload within an ingestion
// operation.
type SourceStatus struct {
	// SourceID identifies the payload.
	SourceID string

	// Status is one of the Status constants.
	Status string

	// Details carries the failure description when Status is
	// StatusFailed.
	Details string

	// UpdatedAt is when the service last changed this entry.
	UpdatedAt time.Time
}

// StatusSummary counts the payloads of an operation by state.
type StatusSummary struct {
	InProgress int
	Succeeded  int
	Failed     int
	Canceled   int
}

// StatusResponse is a point-in-time view of an ingestion operation.
type StatusResponse struct {
	// OperationID identifies the operation.
	OperationID string

	// Summary counts the operation's payloads by state.
	Summary StatusSummary

	// Details reports each payload individually, when the operation was
	// created with tracking enabled.
	Details []SourceStatus
}

// Done reports whether the operation has no payloads left in progress.
func (s *StatusResponse) Done() bool {
	return s.Summary.InProgress == 0
}

// OperationStatus retrieves the current state of an ingestion operation.
//
// Streaming operations complete synchronously, so their status is terminal
// by construction. Queued operations are resolved through the cluster's
// operation registry.
func (ing *Ingestor) OperationStatus(ctx context.Context, op *Operation) (*StatusResponse, error) {
	if ctx == nil {
		return nil, aquilaerr.NewIllegalArgument("nil context")
	}
	if op == nil {
		return nil, aquilaerr.NewIllegalArgument("operation must be non-nil")
	}

	if op.Kind == Streaming {
		return &StatusResponse{
			OperationID: op.OperationID,
			Summary:     StatusSummary{Succeeded: 1},
			Details: []SourceStatus{{
				SourceID:  op.OperationID,
				Status:    StatusSucceeded,
				UpdatedAt: op.CreatedAt,
			}},
		}, nil
	}

	stmt := fmt.Sprintf(".show ingestion operations '%s' details", op.OperationID)
	res, err := ing.client.Mgmt(ctx, op.Database, stmt)
	if err != nil {
		return nil, err
	}

	return statusFromResult(op.OperationID, res)
}

// statusFromResult converts an operation registry table into a status
// response. The registry reports one row per payload with at least the
// SourceId and Status columns.
func statusFromResult(operationID string, res *aquiladb.OperationResult) (*StatusResponse, error) {
	table := res.PrimaryResult()
	if table == nil {
		tables := res.Tables()
		if len(tables) == 0 {
			return nil, aquilaerr.NewProtocol("the operation registry returned no tables")
		}
		table = &tables[0]
	}

	srcIdx := table.ColumnIndex("SourceId")
	statusIdx := table.ColumnIndex("Status")
	if srcIdx < 0 || statusIdx < 0 {
		return nil, aquilaerr.NewProtocol("the operation registry table lacks SourceId or Status columns")
	}
	detailsIdx := table.ColumnIndex("Details")
	updatedIdx := table.ColumnIndex("LastUpdatedOn")

	resp := &StatusResponse{OperationID: operationID}
	for _, row := range table.Rows {
		if srcIdx >= len(row) || statusIdx >= len(row) {
			continue
		}

		ss := SourceStatus{}
		ss.SourceID, _ = row.StringAt(srcIdx)
		ss.Status, _ = row.StringAt(statusIdx)
		if detailsIdx >= 0 {
			ss.Details, _ = row.StringAt(detailsIdx)
		}
		if updatedIdx >= 0 {
			if s, err := row.StringAt(updatedIdx); err == nil {
				ss.UpdatedAt, _ = time.Parse(time.RFC3339Nano, s)
			}
		}

		switch ss.Status {
		case StatusSucceeded:
			resp.Summary.Succeeded++
		case StatusFailed:
			resp.Summary.Failed++
		case StatusCanceled:
			resp.Summary.Canceled++
		default:
			resp.Summary.InProgress++
		}
		resp.Details = append(resp.Details, ss)
	}

	return resp, nil
}

// PollForCompletion retrieves the operation status at the specified
// interval until the operation completes, the timeout elapses or the
// context is canceled.
//
// On timeout the most recently observed status is returned with a nil
// error: an ingestion that is still in flight is not a failure, and the
// caller can resume polling later. A nil status with a non-nil error is
// returned only when no status was ever retrieved.
func (ing *Ingestor) PollForCompletion(ctx context.Context, op *Operation, interval, timeout time.Duration) (*StatusResponse, error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	pollCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var last *StatusResponse
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := ing.OperationStatus(pollCtx, op)
		if err == nil {
			last = status
			if status.Done() {
				return status, nil
			}
		} else if pollCtx.Err() == nil {
			// A failed status probe is not terminal while time remains.
			ing.logger.Fine("status probe for operation %s failed: %v", op.OperationID, err)
		}

		select {
		case <-pollCtx.Done():
			if last != nil {
				return last, nil
			}
			if err != nil {
				return nil, err
			}
			return nil, aquilaerr.NewTimeoutWithCause(pollCtx.Err(),
				"no status observed for operation %s", op.OperationID)
		case <-ticker.C:
		}
	}
}
