package patch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/binary-mirror/internal/manifest"
	"github.com/eugenenazirov/binary-mirror/internal/mirror"
)

// Result summarises what SetMirrorURL changed for one package.
type Result struct {
	Package       string
	Matched       bool
	BinaryUpdated bool
	ChangedFiles  []string
}

// Option configures a Patcher.
type Option func(*Patcher)

// WithPlatform overrides the operating system used to pick platform-specific
// download paths. It takes GOOS values.
func WithPlatform(goos string) Option {
	return func(p *Patcher) {
		if goos != "" {
			p.goos = goos
		}
	}
}

// WithPackageEdits appends edits to the rule of a package, creating the rule
// when the package has none.
func WithPackageEdits(name string, edits ...FileEdit) Option {
	return func(p *Patcher) {
		rule := p.packageRules[name]
		rule.Edits = append(rule.Edits, edits...)
		p.packageRules[name] = rule
	}
}

// WithScriptRule appends an install-script rule.
func WithScriptRule(rule ScriptRule) Option {
	return func(p *Patcher) {
		p.scriptRules = append(p.scriptRules, rule)
	}
}

// Patcher redirects packages to their mirror by editing manifests and files
// inside extracted package directories.
type Patcher struct {
	mirrors      *mirror.Config
	logger       *zap.Logger
	goos         string
	scriptRules  []ScriptRule
	packageRules map[string]PackageRule
}

// New creates a Patcher for the given mirror configuration.
func New(mirrors *mirror.Config, logger *zap.Logger, opts ...Option) *Patcher {
	if mirrors == nil {
		mirrors = mirror.Empty()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Patcher{
		mirrors:      mirrors,
		logger:       logger,
		goos:         runtime.GOOS,
		scriptRules:  append([]ScriptRule(nil), builtinScriptRules...),
		packageRules: clonePackageRules(builtinPackageRules),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetMirrorURL applies the mirror entry of the package, if any, to the
// manifest and to the files under dir. Missing files are skipped and other
// file errors are logged; the install always proceeds.
func (p *Patcher) SetMirrorURL(m *manifest.Manifest, dir string) Result {
	name := m.Name()
	res := Result{Package: name}

	d, ok := p.mirrors.Lookup(name)
	if !ok {
		return res
	}
	res.Matched = true

	logger := p.logger.With(zap.String("package", name+"@"+m.Version()))
	vars := map[string]string{
		"host":    d.Host,
		"version": m.Version(),
	}

	// Packages with an install script read the host from their binary
	// descriptor unless the entry names the files to rewrite.
	script := m.InstallScript()
	if d.RewritesFiles() && (script == "" || len(d.ReplaceHostFiles) > 0) {
		for _, rel := range d.Files() {
			p.apply(logger, dir, FileEdit{Path: rel, HostRewrite: true}, d, vars, &res)
		}
	} else {
		p.overrideBinary(logger, m, d, &res)

		if script != "" {
			for _, rule := range p.scriptRules {
				if rule.Pattern == nil || !rule.Pattern.MatchString(script) {
					continue
				}
				for _, edit := range rule.Edits {
					p.apply(logger, dir, edit, d, vars, &res)
				}
			}
		}
	}

	if rule, ok := p.packageRules[name]; ok {
		ruleVars := vars
		apply := true
		if rule.Vars != nil {
			extra, ok := rule.Vars(d, m, p.goos)
			if ok {
				ruleVars = mergeVars(vars, extra)
			} else {
				apply = false
				logger.Debug("no mirror layout for platform", zap.String("platform", p.goos))
			}
		}
		if apply {
			for _, edit := range rule.Edits {
				p.apply(logger, dir, edit, d, ruleVars, &res)
			}
		}
	}

	return res
}

// UpdatePackage applies the mirror entry and writes the manifest back to
// <dir>/package.json.
func (p *Patcher) UpdatePackage(dir string, m *manifest.Manifest) (Result, error) {
	res := p.SetMirrorURL(m, dir)
	if err := m.Write(dir); err != nil {
		return res, err
	}
	return res, nil
}

// UpdateDir reads <dir>/package.json and runs UpdatePackage on it.
func (p *Patcher) UpdateDir(dir string) (Result, error) {
	m, err := manifest.Read(dir)
	if err != nil {
		return Result{}, err
	}
	return p.UpdatePackage(dir, m)
}

func (p *Patcher) overrideBinary(logger *zap.Logger, m *manifest.Manifest, d *mirror.Descriptor, res *Result) {
	binary := m.Binary()
	fields := d.Fields()
	for _, key := range fields.Keys() {
		raw, _ := fields.Get(key)
		binary.Set(key, raw)
	}

	if err := m.SetBinary(binary); err != nil {
		logger.Warn("failed to update binary descriptor", zap.Error(err))
		return
	}
	res.BinaryUpdated = true
	logger.Info("download from binary mirror", zap.Any("binary", binary))
}

func (p *Patcher) apply(logger *zap.Logger, dir string, edit FileEdit, d *mirror.Descriptor, vars map[string]string, res *Result) {
	if !filepath.IsLocal(filepath.FromSlash(edit.Path)) {
		logger.Warn("refusing to patch file outside package", zap.String("path", edit.Path))
		return
	}
	path := filepath.Join(dir, filepath.FromSlash(edit.Path))

	content, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to read file", zap.String("file", path), zap.Error(err))
		}
		return
	}

	original := string(content)
	updated := original
	if edit.HostRewrite {
		updated = p.rewriteHosts(logger, updated, d)
	}
	if len(edit.Substitutions) > 0 {
		replacer := expander(vars)
		for _, sub := range edit.Substitutions {
			updated = p.substitute(logger, updated, sub, replacer)
		}
	}

	if updated == original {
		logger.Debug("no download host found in file", zap.String("file", path))
		return
	}

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		logger.Warn("failed to write file", zap.String("file", path), zap.Error(err))
		return
	}
	res.ChangedFiles = append(res.ChangedFiles, path)
	logger.Info("download from mirrors", zap.String("changed_file", path))
}

func (p *Patcher) rewriteHosts(logger *zap.Logger, content string, d *mirror.Descriptor) string {
	if d.HasRegExpReplacements() {
		for _, pair := range d.ReplaceHostRegExpMap {
			re, err := regexp.Compile(pair.From)
			if err != nil {
				logger.Warn("invalid host pattern", zap.String("pattern", pair.From), zap.Error(err))
				continue
			}
			content = re.ReplaceAllString(content, expandTemplate(pair.To))
		}
		return content
	}

	for _, pair := range d.HostReplacements() {
		if pair.From == "" {
			continue
		}
		content = strings.Replace(content, pair.From, pair.To, 1)
	}
	return content
}

func (p *Patcher) substitute(logger *zap.Logger, content string, sub Substitution, replacer *strings.Replacer) string {
	if sub.Old == "" {
		return content
	}
	replacement := replacer.Replace(sub.New)

	if sub.Regexp {
		re, err := regexp.Compile(sub.Old)
		if err != nil {
			logger.Warn("invalid substitution pattern", zap.String("pattern", sub.Old), zap.Error(err))
			return content
		}
		return re.ReplaceAllString(content, replacement)
	}

	n := 1
	if sub.All {
		n = -1
	}
	return strings.Replace(content, sub.Old, replacement, n)
}

func mergeVars(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// expandTemplate converts a replacement written for String.prototype.replace
// ($1, $&, $<name>, $$) into Regexp.Expand syntax. Any other $ is literal.
func expandTemplate(repl string) string {
	if !strings.Contains(repl, "$") {
		return repl
	}

	var b strings.Builder
	for i := 0; i < len(repl); i++ {
		c := repl[i]
		if c != '$' || i+1 == len(repl) {
			if c == '$' {
				b.WriteString("$$")
			} else {
				b.WriteByte(c)
			}
			continue
		}

		next := repl[i+1]
		switch {
		case next == '$':
			b.WriteString("$$")
			i++
		case next == '&':
			b.WriteString("${0}")
			i++
		case next >= '0' && next <= '9':
			j := i + 2
			if j < len(repl) && repl[j] >= '0' && repl[j] <= '9' {
				j++
			}
			b.WriteString("${" + repl[i+1:j] + "}")
			i = j - 1
		case next == '<':
			end := strings.IndexByte(repl[i+2:], '>')
			if end < 0 {
				b.WriteString("$$")
				continue
			}
			b.WriteString("${" + repl[i+2:i+2+end] + "}")
			i += 2 + end
		default:
			b.WriteString("$$")
		}
	}
	return b.String()
}
