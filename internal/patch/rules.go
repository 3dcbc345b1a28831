package patch

import (
	"regexp"
	"strings"

	semver "github.com/blang/semver/v4"

	"github.com/eugenenazirov/binary-mirror/internal/manifest"
	"github.com/eugenenazirov/binary-mirror/internal/mirror"
)

// Placeholders expanded in Substitution.New.
const (
	hostPlaceholder     = "{host}"
	platformPlaceholder = "{platform}"
	versionPlaceholder  = "{version}"
)

// Substitution replaces Old with New inside a file. Literal substitutions
// touch the first occurrence unless All is set; regexp substitutions replace
// every match and may reference groups in New ($1, ${name}).
type Substitution struct {
	Old    string `yaml:"old"`
	New    string `yaml:"new"`
	Regexp bool   `yaml:"regexp"`
	All    bool   `yaml:"all"`
}

// FileEdit is an ordered list of substitutions for one file, relative to the
// package directory. HostRewrite applies the package descriptor's own host
// replacements before the listed substitutions.
type FileEdit struct {
	Path          string         `yaml:"path"`
	HostRewrite   bool           `yaml:"hostRewrite"`
	Substitutions []Substitution `yaml:"substitutions"`
}

// ScriptRule edits helper files of packages whose install script matches Pattern.
type ScriptRule struct {
	Name    string
	Pattern *regexp.Regexp
	Edits   []FileEdit
}

// VarsFunc resolves extra placeholders for a package. Returning false skips
// the package's edits.
type VarsFunc func(d *mirror.Descriptor, m *manifest.Manifest, goos string) (map[string]string, bool)

// PackageRule lists the edits applied to one known package.
type PackageRule struct {
	Edits []FileEdit
	Vars  VarsFunc
}

// node-pre-gyp refuses plain http hosts; mirrors may be served over http.
var builtinScriptRules = []ScriptRule{
	{
		Name:    "node-pre-gyp-http",
		Pattern: regexp.MustCompile(`node-pre-gyp install`),
		Edits: []FileEdit{{
			Path: "node_modules/node-pre-gyp/lib/util/versioning.js",
			Substitutions: []Substitution{{
				Old: "if (protocol === 'http:') {",
				New: "if (false && protocol === 'http:') { // hack by binmirror",
			}},
		}},
	},
}

const cypressDownloadURL = `return "{host}/" + version + "/{platform}/cypress.zip"; // hack by binmirror` + "\n"

var builtinPackageRules = map[string]PackageRule{
	"cypress": {
		Vars: cypressVars,
		Edits: []FileEdit{{
			Path: "lib/tasks/download.js",
			Substitutions: []Substitution{
				{Old: "return version ? prepend(`desktop/${version}`) : prepend('desktop')", New: cypressDownloadURL},
				{Old: "return version ? prepend('desktop/' + version) : prepend('desktop');", New: cypressDownloadURL},
			},
		}},
	},
	"vscode": {
		Edits: []FileEdit{{Path: "bin/install", HostRewrite: true}},
	},
}

var defaultCypressPlatforms = map[string]string{
	"darwin": "osx64",
	"linux":  "linux64",
	"win32":  "win64",
}

// Cypress changed its artifact layout in 3.3.0.
var cypressNewLayout = semver.MustParse("3.3.0")

func cypressVars(d *mirror.Descriptor, m *manifest.Manifest, goos string) (map[string]string, bool) {
	platforms := d.Platforms
	if len(platforms) == 0 {
		platforms = defaultCypressPlatforms
	}
	if len(d.NewPlatforms) > 0 && versionAtLeast(m.Version(), cypressNewLayout) {
		platforms = d.NewPlatforms
	}

	target := platforms[nodePlatform(goos)]
	if target == "" {
		return nil, false
	}
	return map[string]string{"platform": target}, true
}

func versionAtLeast(raw string, min semver.Version) bool {
	v, err := semver.ParseTolerant(raw)
	if err != nil {
		return false
	}
	return v.GTE(min)
}

// nodePlatform maps GOOS to the names installers see in process.platform.
func nodePlatform(goos string) string {
	if goos == "windows" {
		return "win32"
	}
	return goos
}

func expander(vars map[string]string) *strings.Replacer {
	return strings.NewReplacer(
		hostPlaceholder, vars["host"],
		platformPlaceholder, vars["platform"],
		versionPlaceholder, vars["version"],
	)
}

func clonePackageRules(src map[string]PackageRule) map[string]PackageRule {
	out := make(map[string]PackageRule, len(src))
	for name, rule := range src {
		out[name] = PackageRule{
			Edits: append([]FileEdit(nil), rule.Edits...),
			Vars:  rule.Vars,
		}
	}
	return out
}
