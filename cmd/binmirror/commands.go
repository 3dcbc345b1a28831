package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/binary-mirror/internal/mirror"
	"github.com/eugenenazirov/binary-mirror/internal/patch"
)

const (
	formatShell = "shell"
	formatJSON  = "json"
)

type stdio struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

// runApply updates every package directory and keeps going after failures.
func runApply(p *patch.Patcher, dirs []string, logger *zap.Logger) error {
	var errs []error
	for _, dir := range dirs {
		res, err := p.UpdateDir(dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dir, err))
			continue
		}
		logger.Info("package processed",
			zap.String("dir", dir),
			zap.String("package", res.Package),
			zap.Bool("matched", res.Matched),
			zap.Bool("binary_updated", res.BinaryUpdated),
			zap.Strings("changed_files", res.ChangedFiles),
		)
	}
	return errors.Join(errs...)
}

var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// writeEnv prints the mirror variables. Shell output skips names that are not
// valid identifiers since they would be evaluated by the sourcing shell.
func writeEnv(w io.Writer, envs map[string]string, format string, logger *zap.Logger) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(envs)
	case formatShell, "":
		keys := make([]string, 0, len(envs))
		for key := range envs {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		for _, key := range keys {
			if !envName.MatchString(key) {
				logger.Warn("skipping invalid environment variable name", zap.String("name", key))
				continue
			}
			if _, err := fmt.Fprintf(w, "export %s=%s\n", key, shellQuote(envs[key])); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func runExec(ctx context.Context, mirrors *mirror.Config, name string, args []string, env []string, std stdio) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = mirrors.Environ(env)
	cmd.Stdin = std.in
	cmd.Stdout = std.out
	cmd.Stderr = std.err
	return cmd.Run()
}

func writeShow(w io.Writer, mirrors *mirror.Config, name string) error {
	if name == "" {
		for _, pkg := range mirrors.Names() {
			if _, err := fmt.Fprintln(w, pkg); err != nil {
				return err
			}
		}
		return nil
	}

	d, ok := mirrors.Lookup(name)
	if !ok {
		return fmt.Errorf("no binary mirror for %s", name)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode mirror entry: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
