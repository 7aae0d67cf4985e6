// Package manifest loads declarative collection manifests and applies them to
// a collection.
//
// A manifest describes a tree of Sets, the Pix that belong in them, optional
// Pix attributes and a list of moves:
//
//	sets:
//	  - name: Families
//	    sets:
//	      - name: Nagy
//	        pix: [nagy-1998.jpg]
//	      - name: Tyson
//	pix:
//	  - filename: nagy-1998.jpg
//	    width: 1024
//	    keywords: [beach]
//	moves:
//	  - pix: nagy-1998.jpg
//	    to: Tyson
//
// Applying a manifest is idempotent: Sets and Pix that already exist are
// reused, so the same file can be applied on every start.
package manifest

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/photobox/pkg/types"
)

// Manifest is the top-level structure of a manifest file.
type Manifest struct {
	Sets  []SetSpec `yaml:"sets"`
	Pix   []PixSpec `yaml:"pix"`
	Moves []Move    `yaml:"moves"`
}

// SetSpec declares a Set, its child Sets and its Pix members.
type SetSpec struct {
	Name string    `yaml:"name"`
	Sets []SetSpec `yaml:"sets"`

	// Pix lists member filenames. Filenames not declared under the
	// top-level pix key are ingested without attributes.
	Pix []string `yaml:"pix"`
}

// PixSpec declares a Pix and the attributes it is created with.
type PixSpec struct {
	Filename string   `yaml:"filename"`
	Filesize *int64   `yaml:"filesize"`
	Width    *int     `yaml:"width"`
	Height   *int     `yaml:"height"`
	Color    *bool    `yaml:"color"`
	Keywords []string `yaml:"keywords"`

	// Attributes holds free-form attributes beyond the reserved ones.
	Attributes map[string]any `yaml:"attributes"`
}

// Move reparents one Pix or Set. Exactly one of Pix and Set is set.
type Move struct {
	Pix string `yaml:"pix"`
	Set string `yaml:"set"`
	To  string `yaml:"to"`
}

// Attrs returns the attribute map the Pix is created with, without the
// filename.
func (p PixSpec) Attrs() types.Attributes {
	attrs := types.Attributes{}
	for k, v := range p.Attributes {
		attrs[k] = v
	}
	if p.Filesize != nil {
		attrs[types.AttrFilesize] = *p.Filesize
	}
	if p.Width != nil {
		attrs[types.AttrWidth] = *p.Width
	}
	if p.Height != nil {
		attrs[types.AttrHeight] = *p.Height
	}
	if p.Color != nil {
		attrs[types.AttrColor] = *p.Color
	}
	if len(p.Keywords) > 0 {
		attrs[types.AttrKeywords] = p.Keywords
	}
	return attrs
}

// LoadFile reads and parses a manifest from disk.
func LoadFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: open %q: %w", path, err)
	}
	defer f.Close()

	m, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("manifest: parse %q: %w", path, err)
	}
	return m, nil
}

// LoadFromReader parses manifest YAML from r and validates it. Unknown keys
// are rejected.
func LoadFromReader(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("manifest: decode yaml: %w", err)
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate reports every structural problem of m at once: empty or repeated
// Set names, empty or repeated filenames, a Pix listed under two Sets, bad
// attributes and malformed moves.
func Validate(m *Manifest) error {
	var errs []error

	sets := map[string]bool{}
	members := map[string]string{}
	var walk func(specs []SetSpec, path string)
	walk = func(specs []SetSpec, path string) {
		for i, s := range specs {
			where := fmt.Sprintf("%s[%d]", path, i)
			switch {
			case s.Name == "":
				errs = append(errs, fmt.Errorf("manifest: %s: name is required", where))
			case sets[s.Name]:
				errs = append(errs, fmt.Errorf("manifest: %s: set %q declared twice", where, s.Name))
			default:
				sets[s.Name] = true
			}
			for _, f := range s.Pix {
				if f == "" {
					errs = append(errs, fmt.Errorf("manifest: %s: empty pix filename", where))
					continue
				}
				if other, ok := members[f]; ok {
					errs = append(errs, fmt.Errorf("manifest: pix %q listed in sets %q and %q", f, other, s.Name))
					continue
				}
				members[f] = s.Name
			}
			walk(s.Sets, where+".sets")
		}
	}
	walk(m.Sets, "sets")

	seen := map[string]bool{}
	for i, p := range m.Pix {
		if p.Filename == "" {
			errs = append(errs, fmt.Errorf("manifest: pix[%d]: filename is required", i))
			continue
		}
		if seen[p.Filename] {
			errs = append(errs, fmt.Errorf("manifest: pix[%d]: %q declared twice", i, p.Filename))
		}
		seen[p.Filename] = true
		attrs := p.Attrs()
		attrs[types.AttrFilename] = p.Filename
		if _, err := types.NormalizeAttributes(attrs); err != nil {
			errs = append(errs, fmt.Errorf("manifest: pix %q: %w", p.Filename, err))
		}
	}

	for i, mv := range m.Moves {
		if (mv.Pix == "") == (mv.Set == "") {
			errs = append(errs, fmt.Errorf("manifest: moves[%d]: exactly one of pix and set is required", i))
		}
		if mv.To == "" {
			errs = append(errs, fmt.Errorf("manifest: moves[%d]: to is required", i))
		}
		if mv.Set != "" && mv.Set == mv.To {
			errs = append(errs, fmt.Errorf("manifest: moves[%d]: set %q cannot move into itself", i, mv.Set))
		}
	}
	return errors.Join(errs...)
}
