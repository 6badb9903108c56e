package corpus

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gowebpki/jcs"
)

// maxLineBytes bounds a single corpus line. Schemas in the official suites
// can be large, but anything past this is a corrupt file.
const maxLineBytes = 10 * 1024 * 1024

// Test is a single instance to be validated against its case's schema.
// Valid is nil when the corpus does not state an expected verdict.
type Test struct {
	Description string          `json:"description"`
	Comment     string          `json:"comment,omitempty"`
	Instance    json.RawMessage `json:"instance"`
	Valid       *bool           `json:"valid,omitempty"`
}

// TestCase is a leaf test group: one schema plus the instances to check
// against it. Registry carries additional schemas the case's schema may
// reference, keyed by URI.
type TestCase struct {
	Description string                     `json:"description"`
	Comment     string                     `json:"comment,omitempty"`
	Schema      json.RawMessage            `json:"schema"`
	Registry    map[string]json.RawMessage `json:"registry,omitempty"`
	Tests       []Test                     `json:"tests"`
}

// Group is one node of the corpus tree. A node is either a leaf, carrying
// a schema and tests, or a branch, carrying only child groups. UnmarshalJSON
// rejects anything else, so a decoded Group always satisfies the invariant.
type Group struct {
	Description string
	Leaf        *TestCase
	Children    []Group
}

// IsLeaf reports whether the group carries a schema and tests directly.
func (g Group) IsLeaf() bool {
	return g.Leaf != nil
}

func (g *Group) UnmarshalJSON(data []byte) error {
	var raw struct {
		Description string                     `json:"description"`
		Comment     string                     `json:"comment"`
		Schema      json.RawMessage            `json:"schema"`
		Registry    map[string]json.RawMessage `json:"registry"`
		Tests       []Test                     `json:"tests"`
		Children    []Group                    `json:"children"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	hasSchema := len(raw.Schema) > 0
	switch {
	case hasSchema && len(raw.Children) > 0:
		return fmt.Errorf("group %q has both a schema and child groups", raw.Description)
	case hasSchema:
		if len(raw.Tests) == 0 {
			return fmt.Errorf("group %q has a schema but no tests", raw.Description)
		}
		*g = Group{
			Description: raw.Description,
			Leaf: &TestCase{
				Description: raw.Description,
				Comment:     raw.Comment,
				Schema:      raw.Schema,
				Registry:    raw.Registry,
				Tests:       raw.Tests,
			},
		}
	case len(raw.Children) > 0:
		if len(raw.Tests) > 0 {
			return fmt.Errorf("group %q has both tests and child groups", raw.Description)
		}
		*g = Group{Description: raw.Description, Children: raw.Children}
	default:
		return fmt.Errorf("group %q has neither a schema nor child groups", raw.Description)
	}
	return nil
}

func (g Group) MarshalJSON() ([]byte, error) {
	if g.IsLeaf() {
		return json.Marshal(g.Leaf)
	}
	return json.Marshal(struct {
		Description string  `json:"description"`
		Children    []Group `json:"children"`
	}{Description: g.Description, Children: g.Children})
}

// Cases flattens the group into its leaf cases in document order.
func (g Group) Cases() []TestCase {
	if g.IsLeaf() {
		return []TestCase{*g.Leaf}
	}
	var cases []TestCase
	for _, child := range g.Children {
		cases = append(cases, child.Cases()...)
	}
	return cases
}

// Load reads a corpus file containing one JSON group per line. Blank lines
// are ignored. Leaves are returned flattened, in document order.
func Load(path string) ([]TestCase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus file: %w", err)
	}
	defer f.Close()

	var cases []TestCase
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var group Group
		if err := json.Unmarshal(raw, &group); err != nil {
			return nil, fmt.Errorf("corpus %s line %d: %w", path, line, err)
		}
		cases = append(cases, group.Cases()...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading corpus file: %w", err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("corpus %s contains no cases", path)
	}
	return cases, nil
}

// Digest returns a stable identity for a case: the sha256 hex digest of its
// RFC 8785 canonical JSON form. Key order inside the schema, registry, and
// instances does not affect the digest.
func Digest(tc TestCase) (string, error) {
	raw, err := json.Marshal(tc)
	if err != nil {
		return "", fmt.Errorf("marshaling case: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalizing case: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
