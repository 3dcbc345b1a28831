package mirror

import (
	"encoding/json"
	"fmt"

	"github.com/eugenenazirov/binary-mirror/internal/ordered"
)

// Default files rewritten for descriptors that replace hosts but do not name files.
var defaultReplaceHostFiles = []string{"lib/index.js", "lib/install.js"}

// Pair is one ordered replacement: every From becomes To.
type Pair struct {
	From string
	To   string
}

// Descriptor describes the substitute download location for one package.
type Descriptor struct {
	Host                 string
	ReplaceHost          []string
	ReplaceHostMap       []Pair
	ReplaceHostRegExpMap []Pair
	ReplaceHostFiles     []string
	Platforms            map[string]string
	NewPlatforms         map[string]string

	hasHostMap   bool
	hasRegExpMap bool
	fields       *ordered.Object
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	fields, err := ordered.Parse(data)
	if err != nil {
		return err
	}

	out := Descriptor{fields: fields}
	if _, err := fields.Decode("host", &out.Host); err != nil {
		return err
	}
	if out.ReplaceHost, err = decodeHostList(fields); err != nil {
		return err
	}
	if out.ReplaceHostMap, out.hasHostMap, err = decodePairs(fields, "replaceHostMap"); err != nil {
		return err
	}
	if out.ReplaceHostRegExpMap, out.hasRegExpMap, err = decodePairs(fields, "replaceHostRegExpMap"); err != nil {
		return err
	}
	if _, err := fields.Decode("replaceHostFiles", &out.ReplaceHostFiles); err != nil {
		return err
	}
	if _, err := fields.Decode("platforms", &out.Platforms); err != nil {
		return err
	}
	if _, err := fields.Decode("newPlatforms", &out.NewPlatforms); err != nil {
		return err
	}

	*d = out
	return nil
}

// MarshalJSON emits the descriptor exactly as it appeared in the document.
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	if d.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.fields)
}

// Fields returns a copy of every field of the descriptor in document order.
func (d *Descriptor) Fields() *ordered.Object {
	if d.fields == nil {
		return ordered.New()
	}
	return d.fields.Clone()
}

// RewritesFiles reports whether the package is redirected by rewriting files
// inside the package rather than through its binary descriptor.
func (d *Descriptor) RewritesFiles() bool {
	return len(d.ReplaceHostFiles) > 0 ||
		(len(d.ReplaceHost) > 0 && d.Host != "") ||
		d.hasHostMap ||
		d.hasRegExpMap
}

// HasRegExpReplacements reports whether replaceHostRegExpMap is set. It takes
// precedence over the literal replacements.
func (d *Descriptor) HasRegExpReplacements() bool {
	return d.hasRegExpMap
}

// HostReplacements returns the literal replacements in order: replaceHostMap
// when present, otherwise every replaceHost entry mapped to host.
func (d *Descriptor) HostReplacements() []Pair {
	if d.hasHostMap {
		return d.ReplaceHostMap
	}
	pairs := make([]Pair, 0, len(d.ReplaceHost))
	for _, from := range d.ReplaceHost {
		pairs = append(pairs, Pair{From: from, To: d.Host})
	}
	return pairs
}

// Files returns the files to rewrite, relative to the package directory.
func (d *Descriptor) Files() []string {
	if len(d.ReplaceHostFiles) > 0 {
		return d.ReplaceHostFiles
	}
	return defaultReplaceHostFiles
}

// decodeHostList accepts replaceHost as a single string or a list of strings.
func decodeHostList(fields *ordered.Object) ([]string, error) {
	raw, ok := fields.Get("replaceHost")
	if !ok {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("replaceHost must be a string or a list of strings: %w", err)
	}
	hosts := list[:0]
	for _, h := range list {
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts, nil
}

func decodePairs(fields *ordered.Object, key string) ([]Pair, bool, error) {
	raw, ok := fields.Get(key)
	if !ok || string(raw) == "null" {
		return nil, false, nil
	}

	obj, err := ordered.Parse(raw)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", key, err)
	}

	pairs := make([]Pair, 0, obj.Len())
	for _, from := range obj.Keys() {
		var to string
		if _, err := obj.Decode(from, &to); err != nil {
			return nil, false, fmt.Errorf("%s: %w", key, err)
		}
		pairs = append(pairs, Pair{From: from, To: to})
	}
	return pairs, true, nil
}
