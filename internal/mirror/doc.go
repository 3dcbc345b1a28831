// Package mirror loads the binary mirror document and exposes it as a
// read-only Config: per-package mirror descriptors plus the environment
// variables installers read their download hosts from.
//
// The document is fetched once through a Source (registry over HTTP, a local
// file or an S3 object) with a bounded number of attempts. Failures never
// surface as errors; the Loader logs them and hands back an empty Config.
package mirror
