// Package bookshop bootstraps the ephemeral schema the documented
// examples run against: the bookshop.books table exactly as the
// tutorial defines it, plus minimal stub tables for the industry
// vignette snippets.
package bookshop

import (
	"context"
	"fmt"
	"strings"

	"docvet/internal/config"
	"docvet/internal/db"
	"docvet/internal/util"

	"github.com/pkg/errors"
)

// BooksDDL is the table definition from the tutorial, verbatim.
const BooksDDL = `CREATE TABLE books (
    book_id serial PRIMARY KEY,
    book_name varchar(150),
    author varchar(150),
    price numeric(10,2),
    published_date date
)`

// Stub holds a minimal stand-in table for a vignette snippet. Only
// the columns the document actually references are declared.
type Stub struct {
	Name    string
	Columns []string
}

// Stubs lists the vignette tables in creation order.
var Stubs = []Stub{
	{Name: "orders", Columns: []string{"order_id serial PRIMARY KEY", "customer_id int", "total numeric(12,2)", "status varchar(32)", "created_at timestamp"}},
	{Name: "accounts", Columns: []string{"account_id serial PRIMARY KEY", "owner varchar(150)", "balance numeric(14,2)"}},
	{Name: "patients", Columns: []string{"patient_id serial PRIMARY KEY", "full_name varchar(150)", "admitted_at timestamp"}},
	{Name: "beds", Columns: []string{"bed_id serial PRIMARY KEY", "ward varchar(64)", "occupied boolean", "patient_id int"}},
	{Name: "shipments", Columns: []string{"shipment_id serial PRIMARY KEY", "origin varchar(100)", "destination varchar(100)", "status varchar(32)", "shipped_at timestamp"}},
	{Name: "players", Columns: []string{"player_id serial PRIMARY KEY", "handle varchar(64)", "score bigint", "level int"}},
	{Name: "events", Columns: []string{"event_id serial PRIMARY KEY", "name varchar(100)", "payload text", "occurred_at timestamp"}},
	{Name: "audit_log", Columns: []string{"audit_id serial PRIMARY KEY", "actor varchar(100)", "action varchar(100)", "logged_at timestamp"}},
}

// Bootstrapper creates and tears down the run schema.
type Bootstrapper struct {
	schema string
	stubs  config.StubConfig
}

// New returns a Bootstrapper for the named schema.
func New(schema string, stubs config.StubConfig) *Bootstrapper {
	return &Bootstrapper{schema: schema, stubs: stubs}
}

// Setup drops any leftover schema, recreates it, and applies the
// bookshop table and the stub tables. Unqualified names in the
// applied DDL land in the run schema via the pinned search_path.
func (b *Bootstrapper) Setup(ctx context.Context, conn db.Conn) error {
	if err := conn.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", b.schema)); err != nil {
		return errors.Wrap(err, "drop schema")
	}
	if err := conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", b.schema)); err != nil {
		return errors.Wrap(err, "create schema")
	}
	if err := conn.Exec(ctx, BooksDDL); err != nil {
		return errors.Wrap(err, "create books")
	}
	if !b.stubs.Enabled {
		return nil
	}
	for _, stub := range append(append([]Stub(nil), Stubs...), extraStubs(b.stubs.Extra)...) {
		if err := conn.Exec(ctx, stub.DDL()); err != nil {
			return errors.Wrapf(err, "create stub %s", stub.Name)
		}
	}
	return nil
}

// Teardown drops the run schema with everything in it. It is safe to
// call on a partially set-up schema.
func (b *Bootstrapper) Teardown(ctx context.Context, conn db.Conn) {
	if err := conn.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", b.schema)); err != nil {
		util.Warnf("teardown schema %s: %v", b.schema, err)
	}
}

// SchemaSQL renders the full bootstrap DDL for case reports.
func (b *Bootstrapper) SchemaSQL() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("CREATE SCHEMA %s;\nSET search_path TO %s, public;\n\n", b.schema, b.schema))
	sb.WriteString(BooksDDL)
	sb.WriteString(";\n")
	if b.stubs.Enabled {
		for _, stub := range Stubs {
			sb.WriteString("\n")
			sb.WriteString(stub.DDL())
			sb.WriteString(";\n")
		}
		for _, stub := range extraStubs(b.stubs.Extra) {
			sb.WriteString("\n")
			sb.WriteString(stub.DDL())
			sb.WriteString(";\n")
		}
	}
	return sb.String()
}

// DDL renders the CREATE TABLE statement for the stub.
func (s Stub) DDL() string {
	return fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", s.Name, strings.Join(s.Columns, ",\n    "))
}

func extraStubs(extra []config.TableStub) []Stub {
	out := make([]Stub, 0, len(extra))
	for _, stub := range extra {
		if strings.TrimSpace(stub.Name) == "" || len(stub.Columns) == 0 {
			continue
		}
		out = append(out, Stub{Name: stub.Name, Columns: stub.Columns})
	}
	return out
}
