// Package api serves a loaded binary mirror config over HTTP so that many
// install workers can share a single registry fetch.
package api
