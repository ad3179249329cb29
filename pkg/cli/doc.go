// Package cli provides common utilities for the globalfifo command-line tool.
//
// This package includes:
//   - Output formatting (YAML, JSON, table, raw) with optional jq filtering
//   - Request file loading (YAML/JSON) for scripted runs
//   - Terminal styling (tables, status lines)
//
// Example usage:
//
//	stats, err := client.Stats(ctx)
//	cli.Output(cli.StatTable(stats), cli.OutputOptions{
//	    Format: cli.FormatTable,
//	})
//
//	// Only the fill levels, as JSON
//	cli.Output(stats, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	    Query:  "[.[] | .len]",
//	})
package cli
