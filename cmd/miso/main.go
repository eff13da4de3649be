// Package main provides a CLI for compiling and running miso statement documents.
//
// The CLI supports:
//   - render: Compile a document and print the SQL with its arguments
//   - exec: Compile a document and run it against PostgreSQL
//   - version: Print version information
//
// Usage:
//
//	miso [flags] <command>
//
// exec needs --db, database.url in miso.yaml, or MISO_DATABASE_URL.
// render works offline.
package main

func main() {
	Execute()
}
