package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eugenenazirov/binary-mirror/internal/ordered"
)

// FileName is the manifest file inside an extracted package directory.
const FileName = "package.json"

// Manifest is a package's own metadata record. Fields other than the ones
// exposed here are kept verbatim and in their original order.
type Manifest struct {
	doc *ordered.Object
}

// Parse decodes a package.json document.
func Parse(data []byte) (*Manifest, error) {
	doc, err := ordered.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &Manifest{doc: doc}, nil
}

// Read loads <dir>/package.json.
func Read(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Name returns the package name, or an empty string.
func (m *Manifest) Name() string {
	return m.stringField("name")
}

// Version returns the package version, or an empty string.
func (m *Manifest) Version() string {
	return m.stringField("version")
}

// InstallScript returns scripts.install, or an empty string.
func (m *Manifest) InstallScript() string {
	var scripts map[string]json.RawMessage
	if found, err := m.doc.Decode("scripts", &scripts); !found || err != nil {
		return ""
	}
	var install string
	if err := json.Unmarshal(scripts["install"], &install); err != nil {
		return ""
	}
	return install
}

// Binary returns a copy of the binary descriptor. A missing or malformed
// descriptor yields an empty object.
func (m *Manifest) Binary() *ordered.Object {
	binary := ordered.New()
	if found, err := m.doc.Decode("binary", binary); !found || err != nil {
		return ordered.New()
	}
	return binary
}

// SetBinary replaces the binary descriptor.
func (m *Manifest) SetBinary(binary *ordered.Object) error {
	return m.doc.SetValue("binary", binary)
}

// Marshal renders the manifest with two-space indentation, no HTML escaping
// and no trailing newline.
func (m *Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m.doc); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Write stores the manifest as <dir>/package.json.
func (m *Manifest) Write(dir string) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (m *Manifest) stringField(key string) string {
	var value string
	if _, err := m.doc.Decode(key, &value); err != nil {
		return ""
	}
	return value
}
