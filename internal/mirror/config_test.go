package mirror

import (
	"errors"
	"os"
	"slices"
	"testing"
)

func loadFixture(t *testing.T) []byte {
	t.Helper()

	data, err := os.ReadFile("testdata/mirrors.json")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

func TestParseFixture(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(loadFixture(t), DefaultRegion)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	tests := []struct {
		name string
		host string
	}{
		{name: "sqlite3", host: "https://cdn.npmmirror.com/binaries"},
		{name: "fsevents", host: "https://cdn.npmmirror.com/binaries/fsevents"},
		{name: "flow-bin", host: "https://cdn.npmmirror.com/binaries/flow/v"},
	}
	for _, tc := range tests {
		d, ok := cfg.Lookup(tc.name)
		if !ok {
			t.Fatalf("expected descriptor for %s", tc.name)
		}
		if d.Host != tc.host {
			t.Fatalf("%s: expected host %s, got %s", tc.name, tc.host, d.Host)
		}
	}

	if _, ok := cfg.Lookup("ENVS"); ok {
		t.Fatalf("ENVS must not be exposed as a package")
	}
	if got := cfg.Envs()["CHROMEDRIVER_CDNURL"]; got != "https://cdn.npmmirror.com/binaries/chromedriver" {
		t.Fatalf("unexpected CHROMEDRIVER_CDNURL %q", got)
	}
	if cfg.Len() != 8 {
		t.Fatalf("expected 8 packages, got %d", cfg.Len())
	}
	if names := cfg.Names(); !slices.IsSorted(names) {
		t.Fatalf("expected sorted names, got %v", names)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		data   string
		region string
	}{
		{name: "malformed", data: `{"mirrors":`, region: DefaultRegion},
		{name: "missing region", data: `{"mirrors":{"europe":{}}}`, region: DefaultRegion},
		{name: "region not object", data: `{"mirrors":{"china":[]}}`, region: DefaultRegion},
		{name: "bad replaceHost", data: `{"mirrors":{"china":{"x":{"replaceHost":42}}}}`, region: DefaultRegion},
		{name: "bad envs", data: `{"mirrors":{"china":{"ENVS":[1]}}}`, region: DefaultRegion},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := Parse([]byte(tc.data), tc.region); !errors.Is(err, ErrInvalidDocument) {
				t.Fatalf("expected ErrInvalidDocument, got %v", err)
			}
		})
	}
}

func TestParseCustomRegion(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`{"mirrors":{"europe":{"sqlite3":{"host":"https://mirror.example.eu"}}}}`), "europe")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if d, ok := cfg.Lookup("sqlite3"); !ok || d.Host != "https://mirror.example.eu" {
		t.Fatalf("unexpected descriptor %+v", d)
	}
	if len(cfg.Envs()) != 0 {
		t.Fatalf("expected no envs")
	}
}

func TestSetEnvsOverwritesOnlyConfiguredKeys(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(loadFixture(t), DefaultRegion)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	env := map[string]string{
		"PATH":             "/usr/bin",
		"SASS_BINARY_SITE": "https://github.com/sass/node-sass/releases/download",
	}
	cfg.SetEnvs(env)

	if env["PATH"] != "/usr/bin" {
		t.Fatalf("expected unrelated key to be preserved, got %q", env["PATH"])
	}
	if env["SASS_BINARY_SITE"] != "https://cdn.npmmirror.com/binaries/node-sass" {
		t.Fatalf("expected configured key to be overwritten, got %q", env["SASS_BINARY_SITE"])
	}
	if env["ELECTRON_MIRROR"] != "https://cdn.npmmirror.com/binaries/electron/" {
		t.Fatalf("expected configured key to be added, got %q", env["ELECTRON_MIRROR"])
	}
	if len(env) != 4 {
		t.Fatalf("expected 4 keys, got %d: %v", len(env), env)
	}
}

func TestSetEnvsNilMap(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(loadFixture(t), DefaultRegion)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	env := cfg.SetEnvs(nil)
	if env["SASS_BINARY_SITE"] != "https://cdn.npmmirror.com/binaries/node-sass" {
		t.Fatalf("expected configured key in new map, got %v", env)
	}
	if len(env) != len(cfg.Envs()) {
		t.Fatalf("expected %d keys, got %d", len(cfg.Envs()), len(env))
	}
}

func TestEnviron(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`{"mirrors":{"china":{"ENVS":{"B_URL":"b","A_URL":"a"}}}}`), DefaultRegion)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	got := cfg.Environ([]string{"HOME=/root", "B_URL=old", "B_URL=older", "BROKEN"})
	want := []string{"HOME=/root", "B_URL=b", "BROKEN", "A_URL=a"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestEmptyConfig(t *testing.T) {
	t.Parallel()

	cfg := Empty()
	if cfg.Len() != 0 || len(cfg.Envs()) != 0 {
		t.Fatalf("expected empty config")
	}
	env := map[string]string{"A": "1"}
	cfg.SetEnvs(env)
	if len(env) != 1 {
		t.Fatalf("expected env to be untouched")
	}
}

func TestDescriptorHostReplacements(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(loadFixture(t), DefaultRegion)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	pngquant, _ := cfg.Lookup("pngquant-bin")
	if !pngquant.RewritesFiles() {
		t.Fatalf("expected pngquant-bin to rewrite files")
	}
	pairs := pngquant.HostReplacements()
	if len(pairs) != 2 || pairs[1].To != "https://cdn.npmmirror.com/binaries/pngquant-bin/" {
		t.Fatalf("unexpected replacements %v", pairs)
	}
	if !slices.Equal(pngquant.Files(), []string{"lib/index.js", "lib/install.js"}) {
		t.Fatalf("expected default files, got %v", pngquant.Files())
	}

	sharp, _ := cfg.Lookup("sharp")
	sharpPairs := sharp.HostReplacements()
	if len(sharpPairs) != 2 || sharpPairs[0].From != "https://github.com/lovell/sharp-libvips/releases/download/" {
		t.Fatalf("expected replaceHostMap order to be preserved, got %v", sharpPairs)
	}
	if !slices.Equal(sharp.Files(), []string{"lib/libvips.js", "install/libvips.js"}) {
		t.Fatalf("unexpected files %v", sharp.Files())
	}

	phantom, _ := cfg.Lookup("phantomjs-prebuilt")
	if !phantom.HasRegExpReplacements() || len(phantom.ReplaceHostRegExpMap) != 1 {
		t.Fatalf("expected regexp replacements, got %v", phantom.ReplaceHostRegExpMap)
	}

	sqlite, _ := cfg.Lookup("sqlite3")
	if sqlite.RewritesFiles() {
		t.Fatalf("expected sqlite3 to be redirected through its binary descriptor")
	}
	if keys := sqlite.Fields().Keys(); !slices.Equal(keys, []string{"host", "remote_path"}) {
		t.Fatalf("unexpected fields %v", keys)
	}

	cypress, _ := cfg.Lookup("cypress")
	if cypress.NewPlatforms["linux"] != "linux-x64" {
		t.Fatalf("unexpected newPlatforms %v", cypress.NewPlatforms)
	}
}
