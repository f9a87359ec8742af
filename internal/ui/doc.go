// Package ui renders CLI output with lipgloss: sync results, the user registry
// and per-user status tables.
//
// Output is plain text with ANSI styling when the terminal supports it, so it
// can be piped without special handling.
package ui
