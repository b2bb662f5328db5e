// Package db provides the embedded database schemas, one per storage driver.
package db

import _ "embed"

// PostgresSchema contains the PostgreSQL DDL for all application tables.
//
//go:embed migrations/postgres/001_schema.sql
var PostgresSchema string

// MySQLSchema contains the MySQL DDL for all application tables. Statements
// are separated by semicolons and must be executed one at a time.
//
//go:embed migrations/mysql/001_schema.sql
var MySQLSchema string
