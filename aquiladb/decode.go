//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

package aquiladb

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/aquiladata/aquila-go-sdk/aquiladb/aquilaerr"
)

// ResultFormat identifies the wire format of an operation response body.
type ResultFormat int

const (
	// FormatV1 is the legacy format used by the management endpoint: a
	// single object with a flat Tables array and an optional trailing index
	// table.
	FormatV1 ResultFormat = iota + 1

	// FormatV2 is the frame based format used by the query endpoint: an
	// array of typed frames of which only the data tables carry results.
	FormatV2
)

// v1Response is the top level object of a FormatV1 body.
type v1Response struct {
	Tables []v1Table `json:"Tables"`
}

type v1Table struct {
	TableName string            `json:"TableName"`
	Columns   []v1Column        `json:"Columns"`
	Rows      []json.RawMessage `json:"Rows"`
}

type v1Column struct {
	ColumnName string `json:"ColumnName"`
	ColumnType string `json:"ColumnType"`
	DataType   string `json:"DataType"`
}

// v1RowError is the shape a row entry takes when the service aborts the
// operation mid-response.
type v1RowError struct {
	Exceptions []string `json:"Exceptions"`
}

// v2Frame is one element of a FormatV2 body. Fields beyond FrameType are
// populated only for data table frames.
type v2Frame struct {
	FrameType string     `json:"FrameType"`
	TableID   int        `json:"TableId"`
	TableKind string     `json:"TableKind"`
	TableName string     `json:"TableName"`
	Columns   []v1Column `json:"Columns"`
	Rows      []Row      `json:"Rows"`
}

// tocKindNames maps the Kind values announced in a FormatV1 index table to
// table kinds.
var tocKindNames = map[string]TableKind{
	"QueryResult":     PrimaryResult,
	"QueryProperties": QueryProperties,
	"QueryStatus":     QueryCompletionInformation,
}

// decodeResponse parses a response body in the specified format into an
// OperationResult.
func decodeResponse(body []byte, format ResultFormat) (*OperationResult, error) {
	switch format {
	case FormatV1:
		return decodeV1(body)
	case FormatV2:
		return decodeV2(body)
	default:
		return nil, aquilaerr.NewIllegalArgument("unsupported result format %d", format)
	}
}

// decodeV1 parses a FormatV1 body.
//
// With one or two tables the roles are positional: the first table is the
// primary result and the second, if present, carries query properties. With
// three or more tables the last table is an index that assigns each
// preceding table its role; tables the index does not mention, or mentions
// under an unrecognized name, are kept with an unknown kind.
func decodeV1(body []byte) (*OperationResult, error) {
	var resp v1Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, aquilaerr.NewProtocolWithCause(err, "cannot parse response body")
	}

	tables := make([]ResultTable, 0, len(resp.Tables))
	for i := range resp.Tables {
		t, err := convertV1Table(&resp.Tables[i])
		if err != nil {
			return nil, err
		}
		tables = append(tables, *t)
	}

	switch {
	case len(tables) == 0:
		// A successful management command may produce no tables at all.

	case len(tables) <= 2:
		tables[0].Kind = PrimaryResult
		if len(tables) == 2 {
			tables[1].Kind = QueryProperties
		}

	default:
		toc := &tables[len(tables)-1]
		toc.Kind = TableOfContents
		if err := applyTOC(tables[:len(tables)-1], toc); err != nil {
			return nil, err
		}
	}

	return &OperationResult{tables: tables}, nil
}

// convertV1Table converts one wire table, decoding each row entry as either
// a cell array or an embedded error object. An embedded error aborts the
// whole decode: the response is a failure report, not a partial result.
func convertV1Table(wt *v1Table) (*ResultTable, error) {
	t := &ResultTable{
		Name:    wt.TableName,
		Kind:    UnknownTableKind,
		Columns: make([]Column, len(wt.Columns)),
		Rows:    make([]Row, 0, len(wt.Rows)),
	}

	for i, c := range wt.Columns {
		typ := c.ColumnType
		if typ == "" {
			typ = c.DataType
		}
		t.Columns[i] = Column{Name: c.ColumnName, Type: typ, Ordinal: i}
	}

	for _, raw := range wt.Rows {
		trimmed := strings.TrimSpace(string(raw))
		if strings.HasPrefix(trimmed, "{") {
			var re v1RowError
			if err := json.Unmarshal(raw, &re); err != nil {
				return nil, aquilaerr.NewProtocolWithCause(err, "cannot parse row entry in table %q", wt.TableName)
			}
			return nil, rowExceptionsError(re.Exceptions)
		}

		var row Row
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, aquilaerr.NewProtocolWithCause(err, "cannot parse row in table %q", wt.TableName)
		}
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

// rowExceptionsError converts the exception list embedded in a row entry
// into a service error. A single exception is reported verbatim.
func rowExceptionsError(exceptions []string) error {
	switch len(exceptions) {
	case 0:
		return aquilaerr.NewService(true, "the service reported a failure with no details")
	case 1:
		return aquilaerr.NewService(true, "%s", exceptions[0])
	default:
		return aquilaerr.NewService(true, "the service reported %d failures: %s",
			len(exceptions), strings.Join(exceptions, "; "))
	}
}

// applyTOC assigns name, id and kind to the data tables using the index
// table rows. The i-th index row describes the i-th data table; tables the
// index does not describe keep an unknown kind.
func applyTOC(tables []ResultTable, toc *ResultTable) error {
	nameIdx := toc.ColumnIndex("Name")
	kindIdx := toc.ColumnIndex("Kind")
	if nameIdx < 0 || kindIdx < 0 {
		return aquilaerr.NewProtocol("index table lacks Name or Kind columns")
	}
	idIdx := toc.ColumnIndex("Id")

	if len(toc.Rows) > len(tables) {
		return aquilaerr.NewProtocol("index table describes %d tables, the response contains %d",
			len(toc.Rows), len(tables))
	}

	for i, row := range toc.Rows {
		kindName, err := row.StringAt(kindIdx)
		if err != nil {
			return aquilaerr.NewProtocolWithCause(err, "cannot read the Kind cell of index table row %d", i)
		}
		if kind, ok := tocKindNames[kindName]; ok {
			tables[i].Kind = kind
		} else {
			tables[i].Kind = UnknownTableKind
		}

		if name, err := row.StringAt(nameIdx); err == nil {
			tables[i].Name = name
		}
		if idIdx >= 0 {
			tables[i].ID, _ = row.StringAt(idIdx)
		}
	}

	return nil
}

// decodeV2 parses a FormatV2 body, keeping only the data table frames.
// Header, progress and completion frames carry no rows and are dropped.
func decodeV2(body []byte) (*OperationResult, error) {
	var frames []v2Frame
	if err := json.Unmarshal(body, &frames); err != nil {
		return nil, aquilaerr.NewProtocolWithCause(err, "cannot parse response body")
	}

	var tables []ResultTable
	for i := range frames {
		f := &frames[i]
		if f.FrameType != "DataTable" {
			continue
		}

		t := ResultTable{
			Name:    f.TableName,
			ID:      strconv.Itoa(f.TableID),
			Kind:    v2TableKind(f.TableKind),
			Columns: make([]Column, len(f.Columns)),
			Rows:    f.Rows,
		}
		for j, c := range f.Columns {
			t.Columns[j] = Column{Name: c.ColumnName, Type: c.ColumnType, Ordinal: j}
		}
		tables = append(tables, t)
	}

	return &OperationResult{tables: tables}, nil
}

func v2TableKind(kind string) TableKind {
	switch TableKind(kind) {
	case PrimaryResult, QueryProperties, QueryCompletionInformation:
		return TableKind(kind)
	default:
		return UnknownTableKind
	}
}
