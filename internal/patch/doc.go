// Package patch points extracted packages at their binary mirror. Packages
// whose install step reads the download host from package.json get their
// binary descriptor overridden; packages that embed the host in their own
// scripts get those files rewritten according to a table of per-package
// substitution rules.
package patch
