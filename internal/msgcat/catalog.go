// Package msgcat holds the player-facing texts: error messages, dice announcements and
// end-of-match lines. Texts are text/template strings keyed by dotted paths.
package msgcat

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed messages.en.yaml
var embedded []byte

const embeddedName = "messages.en.yaml"

// Catalog is immutable once built and safe for concurrent use.
type Catalog struct {
	tpl map[string]*template.Template
}

// New parses the embedded messages and layers every *.yaml/*.yml file of overrideDir on
// top, in name order. A key may be overridden by at most one file.
func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{tpl: make(map[string]*template.Template)}
	if err := c.apply(embeddedName, embedded, nil); err != nil {
		return nil, err
	}
	if strings.TrimSpace(overrideDir) == "" {
		return c, nil
	}
	files, err := overrideFiles(overrideDir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]string)
	for _, path := range files {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if err := c.apply(filepath.Base(path), b, seen); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustDefault returns the embedded catalog.
func MustDefault() *Catalog {
	c, err := New("")
	if err != nil {
		panic(err)
	}
	return c
}

func overrideFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read message dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			if !e.IsDir() {
				out = append(out, filepath.Join(dir, e.Name()))
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

// apply walks one YAML document. seen, when non-nil, records which override file set a
// key so two overrides of the same key are reported instead of silently racing on order.
func (c *Catalog) apply(name string, b []byte, seen map[string]string) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	if len(doc.Content) == 0 {
		return nil
	}
	return walk(doc.Content[0], "", func(key string, leaf *yaml.Node) error {
		if seen != nil {
			// 같은 키를 두 파일이 덮어쓰면 순서에 따라 결과가 달라지므로 거부
			if prev, ok := seen[key]; ok {
				return fmt.Errorf("%s:%d: key %q already overridden in %s", name, leaf.Line, key, prev)
			}
			seen[key] = name
		}
		t, err := template.New(key).Option("missingkey=error").Parse(leaf.Value)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", name, leaf.Line, err)
		}
		c.tpl[key] = t
		return nil
	})
}

func walk(n *yaml.Node, prefix string, leaf func(key string, n *yaml.Node) error) error {
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			key := k.Value
			if prefix != "" {
				key = prefix + "." + key
			}
			if err := walk(v, key, leaf); err != nil {
				return err
			}
		}
		return nil
	case yaml.ScalarNode:
		if prefix == "" {
			return fmt.Errorf("line %d: top-level value without a key", n.Line)
		}
		if tag := n.ShortTag(); tag != "!!str" {
			return fmt.Errorf("line %d: %s must be a string, got %s", n.Line, prefix, tag)
		}
		return leaf(prefix, n)
	case yaml.AliasNode: // 앵커 참조는 원본 노드로 펼침
		return walk(n.Alias, prefix, leaf)
	default:
		return fmt.Errorf("line %d: %s: unsupported yaml node", n.Line, prefix)
	}
}

// Render executes the template at key. Data fields the template names must be present.
func (c *Catalog) Render(key string, data any) (string, error) {
	t, ok := c.tpl[strings.TrimSpace(key)]
	if !ok {
		return "", fmt.Errorf("message not found: %s", key)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Text renders key, or returns fallback when the key is unknown or fails to render.
func (c *Catalog) Text(key string, data any, fallback string) string {
	if c == nil {
		return fallback
	}
	s, err := c.Render(key, data)
	if err != nil {
		return fallback
	}
	return s
}

// Missing lists the keys the catalog has no text for.
func (c *Catalog) Missing(keys ...string) []string {
	var out []string
	for _, k := range keys {
		if _, ok := c.tpl[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
