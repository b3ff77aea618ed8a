package vault

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter is the parsed YAML header of an entity file: an unordered
// map of string keys to arbitrary values. render sorts the keys, so
// serialization is always canonical regardless of insertion order.
type Frontmatter map[string]any

// split separates a raw file's YAML frontmatter from its Markdown body.
// Returns ErrMalformed if the file does not open with a "---" delimiter or
// the closing delimiter is missing.
func split(raw []byte) (yamlPart, body []byte, err error) {
	const delim = "---\n"
	if !bytes.HasPrefix(raw, []byte(delim)) {
		return nil, nil, fmt.Errorf("%w: missing opening frontmatter delimiter", ErrMalformed)
	}
	rest := raw[len(delim):]
	idx := bytes.Index(rest, []byte("\n---\n"))
	if idx < 0 {
		// Allow a file that is frontmatter-only (body is empty after the
		// closing delimiter at EOF).
		if bytes.HasSuffix(rest, []byte("\n---\n")) {
			return rest[:len(rest)-len("\n---\n")], nil, nil
		}
		return nil, nil, fmt.Errorf("%w: missing closing frontmatter delimiter", ErrMalformed)
	}
	yamlPart = rest[:idx]
	body = rest[idx+len("\n---\n"):]
	return yamlPart, body, nil
}

func parseFrontmatter(raw []byte) (Frontmatter, string, error) {
	yamlPart, body, err := split(raw)
	if err != nil {
		return nil, "", err
	}
	fm := Frontmatter{}
	if len(bytes.TrimSpace(yamlPart)) > 0 {
		if uerr := yaml.Unmarshal(yamlPart, &fm); uerr != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrMalformed, uerr)
		}
	}
	return fm, string(body), nil
}

// render produces the canonical on-disk byte sequence for fm+content:
// sorted frontmatter keys, LF line endings, a trailing newline, and a single
// blank-line-free "---" fence on each side. Identical logical content always
// produces byte-identical output (spec.md §4.1 "Guarantees").
func render(fm Frontmatter, content string) ([]byte, error) {
	keys := make([]string, 0, len(fm))
	for k := range fm {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(orderedMap(fm, keys)); err != nil {
		return nil, fmt.Errorf("vault: encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("vault: encode frontmatter: %w", err)
	}
	buf.WriteString("---\n")

	body := strings.ReplaceAll(content, "\r\n", "\n")
	buf.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// orderedMap builds a yaml.Node mapping whose keys appear in the given
// sorted order, since encoding a plain Go map does not guarantee order.
func orderedMap(fm Frontmatter, keys []string) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range keys {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}
		valNode := &yaml.Node{}
		_ = valNode.Encode(fm[k])
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node
}
