// Package manifest reads and writes package.json files of extracted packages.
package manifest
