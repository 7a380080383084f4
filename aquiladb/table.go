//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

package aquiladb

import (
	"fmt"

	"github.com/aquiladata/aquila-go-sdk/aquiladb/jsonutil"
)

// TableKind identifies the role a result table plays within an operation
// result.
type TableKind string

const (
	// PrimaryResult tables carry the rows produced by the query statement
	// itself.
	PrimaryResult TableKind = "PrimaryResult"

	// QueryProperties tables carry auxiliary attributes of the query, such
	// as visualization directives.
	QueryProperties TableKind = "QueryProperties"

	// QueryCompletionInformation tables carry execution statistics and
	// diagnostics emitted after the query finishes.
	QueryCompletionInformation TableKind = "QueryCompletionInformation"

	// TableOfContents is the index table that maps the remaining tables of
	// a response to their kinds.
	TableOfContents TableKind = "TableOfContents"

	// UnknownTableKind marks tables whose role the response did not
	// declare, or declared with a name this client does not recognize.
	UnknownTableKind TableKind = "Unknown"
)

// Column describes one column of a result table.
type Column struct {
	// Name is the column name.
	Name string

	// Type is the service-side scalar type name of the column, such as
	// "string", "long" or "datetime".
	Type string

	// Ordinal is the zero based position of the column within its table.
	Ordinal int
}

// Row represents one row of a result table as a slice of cell values
// aligned with the table columns. Values decode to the JSON-native Go
// types: string, float64, bool, nested maps and slices. A nil cell
// distinguishes an absent value from an empty one.
type Row []interface{}

// StringAt returns the cell at the specified ordinal as a string.
// It returns an error if the ordinal is out of range or the cell does not
// hold a string value.
func (r Row) StringAt(ordinal int) (string, error) {
	v, err := r.cellAt(ordinal)
	if err != nil {
		return "", err
	}
	return jsonutil.ExpectString(v)
}

// NumberAt returns the cell at the specified ordinal as a float64.
// It returns an error if the ordinal is out of range or the cell does not
// hold a numeric value.
func (r Row) NumberAt(ordinal int) (float64, error) {
	v, err := r.cellAt(ordinal)
	if err != nil {
		return 0, err
	}
	return jsonutil.ExpectNumber(v)
}

// ObjectAt returns the cell at the specified ordinal as a decoded JSON
// object. It returns an error if the ordinal is out of range or the cell
// does not hold an object value.
func (r Row) ObjectAt(ordinal int) (map[string]interface{}, error) {
	v, err := r.cellAt(ordinal)
	if err != nil {
		return nil, err
	}
	return jsonutil.ExpectObject(v)
}

func (r Row) cellAt(ordinal int) (interface{}, error) {
	if ordinal < 0 || ordinal >= len(r) {
		return nil, fmt.Errorf("column ordinal %d out of range, the row has %d cells", ordinal, len(r))
	}
	return r[ordinal], nil
}

// ResultTable is one table of an operation result.
type ResultTable struct {
	// Name is the table name reported by the service, if any.
	Name string

	// ID is the table id reported by the service, if any.
	ID string

	// Kind identifies the role of this table within the result.
	Kind TableKind

	// Columns describes the table columns in ordinal order.
	Columns []Column

	// Rows holds the table rows.
	Rows []Row
}

// ColumnIndex returns the ordinal of the named column, or -1 if the table
// has no such column.
func (t *ResultTable) ColumnIndex(name string) int {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return i
		}
	}
	return -1
}

// String returns a JSON representation of the table.
func (t *ResultTable) String() string {
	return jsonutil.AsJSON(t)
}

// OperationResult is the decoded result of a query or management command.
type OperationResult struct {
	tables []ResultTable
}

// NewOperationResult creates an OperationResult over the specified tables.
// This is intended for applications that fabricate results in tests.
func NewOperationResult(tables []ResultTable) *OperationResult {
	return &OperationResult{tables: tables}
}

// Tables returns all result tables in response order.
func (r *OperationResult) Tables() []ResultTable {
	return r.tables
}

// PrimaryResult returns the primary result table: the single table when
// the result contains exactly one, otherwise the first table of kind
// PrimaryResult. It returns nil if the result contains neither.
func (r *OperationResult) PrimaryResult() *ResultTable {
	if len(r.tables) == 1 {
		return &r.tables[0]
	}
	for i := range r.tables {
		if r.tables[i].Kind == PrimaryResult {
			return &r.tables[i]
		}
	}
	return nil
}

// TableByKind returns the first table of the specified kind, or nil if the
// result contains none.
func (r *OperationResult) TableByKind(kind TableKind) *ResultTable {
	for i := range r.tables {
		if r.tables[i].Kind == kind {
			return &r.tables[i]
		}
	}
	return nil
}
