// Package signature holds the call signature table: the mapping from the
// numeric api index carried in every event header to the call's name, owning
// module and ordered argument layout.
package signature

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"firestige.xyz/sandtrace/internal/core"
)

// Indices 0 and 1 are framing messages, not calls.
const (
	IndexProcess uint8 = 0
	IndexThread  uint8 = 1
)

// ArgSpec describes one declared argument: a format code selecting the wire
// decoder and the argument's name.
type ArgSpec struct {
	Format byte
	Name   string
}

// Signature describes a hooked call.
type Signature struct {
	Index  uint8
	Name   string
	Module string
	Args   []ArgSpec
}

// Table is an immutable index of signatures. It is safe for concurrent use
// because nothing mutates it after construction.
type Table struct {
	entries [256]*Signature
	size    int
}

// New builds a table from sigs. Reserved or duplicate indices are rejected.
func New(sigs []Signature) (*Table, error) {
	t := &Table{}
	for i := range sigs {
		sig := sigs[i]
		if sig.Index == IndexProcess || sig.Index == IndexThread {
			return nil, fmt.Errorf("%w: index %d is reserved", core.ErrInvalidSignatureTable, sig.Index)
		}
		if t.entries[sig.Index] != nil {
			return nil, fmt.Errorf("%w: duplicate index %d", core.ErrInvalidSignatureTable, sig.Index)
		}
		if sig.Name == "" {
			return nil, fmt.Errorf("%w: index %d has no name", core.ErrInvalidSignatureTable, sig.Index)
		}
		sig.Args = append([]ArgSpec(nil), sig.Args...)
		t.entries[sig.Index] = &sig
		t.size++
	}
	return t, nil
}

// Lookup returns the signature registered for index.
func (t *Table) Lookup(index uint8) (Signature, bool) {
	if t == nil || t.entries[index] == nil {
		return Signature{}, false
	}
	sig := *t.entries[index]
	sig.Args = append([]ArgSpec(nil), sig.Args...)
	return sig, true
}

// Len returns the number of registered signatures.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return t.size
}

// fileEntry is the on-disk form of a signature. Format is a string of format
// codes, one per entry in Args.
type fileEntry struct {
	Index  int      `yaml:"index"`
	Name   string   `yaml:"name"`
	Module string   `yaml:"module"`
	Format string   `yaml:"format"`
	Args   []string `yaml:"args"`
}

type fileRoot struct {
	Signatures []fileEntry `yaml:"signatures"`
}

// Load reads a YAML signature file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signature file %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signature file %s: %w", path, err)
	}
	return t, nil
}

// Parse builds a table from YAML data.
func Parse(data []byte) (*Table, error) {
	var root fileRoot
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidSignatureTable, err)
	}

	sigs := make([]Signature, 0, len(root.Signatures))
	for _, e := range root.Signatures {
		if e.Index < 0 || e.Index > 255 {
			return nil, fmt.Errorf("%w: index %d out of range", core.ErrInvalidSignatureTable, e.Index)
		}
		if len(e.Format) != len(e.Args) {
			return nil, fmt.Errorf("%w: %s declares %d format codes for %d arguments",
				core.ErrInvalidSignatureTable, e.Name, len(e.Format), len(e.Args))
		}
		sig := Signature{
			Index:  uint8(e.Index),
			Name:   e.Name,
			Module: e.Module,
			Args:   make([]ArgSpec, len(e.Args)),
		}
		for i, name := range e.Args {
			sig.Args[i] = ArgSpec{Format: e.Format[i], Name: name}
		}
		sigs = append(sigs, sig)
	}
	return New(sigs)
}
