// Package application provides application initialization and dependency wiring.
// It turns a resolved configuration into a mirror config source, a retrying
// loader, a patcher with the configured extra rules and, for the lookup
// service, an HTTP server, keeping the main package focused on CLI parsing
// and orchestration.
package application
