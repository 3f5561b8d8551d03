// Package flatten inlines solidity import directives into a single source
// for block explorer verification.
package flatten

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	ErrBadRemapping = errors.New("remapping must be prefix=target")
	ErrImportCycle  = errors.New("import cycle")

	importRe      = regexp.MustCompile(`^\s*import\s+(?:[^'"]*?\s+from\s+)?["']([^"']+)["']\s*;`)
	importStartRe = regexp.MustCompile(`^\s*import\b`)
	pragmaRe      = regexp.MustCompile(`^\s*pragma\s+solidity\b`)
)

type (
	Remapping struct {
		Prefix string
		Target string
	}

	Result struct {
		Source string
		Paths  []string
	}

	// Flattener resolves imports relative to the importing file, then through
	// remappings (longest prefix first), then against Root.
	Flattener struct {
		Root       string
		Remappings []Remapping
		ReadFile   func(name string) ([]byte, error)
	}
)

func ParseRemappings(specs []string) ([]Remapping, error) {
	out := make([]Remapping, 0, len(specs))
	for _, s := range specs {
		prefix, target, ok := strings.Cut(s, "=")
		if !ok || prefix == "" {
			return nil, fmt.Errorf("%w: %q", ErrBadRemapping, s)
		}
		out = append(out, Remapping{Prefix: prefix, Target: target})
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].Prefix) > len(out[j].Prefix) })
	return out, nil
}

func New(root string, remappings []Remapping) *Flattener {
	return &Flattener{Root: root, Remappings: remappings, ReadFile: os.ReadFile}
}

type state struct {
	f      *Flattener
	seen   map[string]bool
	stack  map[string]bool
	paths  []string
	out    strings.Builder
	header string
}

// Flatten returns the root file with every import inlined once, in the
// order they are first reached. The first solidity pragma heads the output
// and later ones are dropped.
func (f *Flattener) Flatten(file string) (Result, error) {
	s := &state{f: f, seen: map[string]bool{}, stack: map[string]bool{}}
	if err := s.visit(f.resolve("", file)); err != nil {
		return Result{}, err
	}
	return Result{Source: s.header + s.out.String(), Paths: s.paths}, nil
}

func (f *Flattener) resolve(from, imp string) string {
	if strings.HasPrefix(imp, "./") || strings.HasPrefix(imp, "../") {
		return path.Clean(path.Join(path.Dir(from), imp))
	}
	for _, r := range f.Remappings {
		if strings.HasPrefix(imp, r.Prefix) {
			return path.Clean(r.Target + strings.TrimPrefix(imp, r.Prefix))
		}
	}
	if f.Root == "" || path.IsAbs(imp) || strings.HasPrefix(imp, f.Root+"/") {
		return path.Clean(imp)
	}
	return path.Clean(path.Join(f.Root, imp))
}

func (s *state) visit(name string) error {
	if s.seen[name] {
		return nil
	}
	if s.stack[name] {
		return fmt.Errorf("%w at %s", ErrImportCycle, name)
	}
	s.stack[name] = true
	defer delete(s.stack, name)

	data, err := s.f.ReadFile(filepath.FromSlash(name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	var body strings.Builder
	lines := strings.SplitAfter(string(data), "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		// an import statement may span lines up to its semicolon
		if importStartRe.MatchString(line) {
			for !strings.Contains(line, ";") && i+1 < len(lines) {
				i++
				line += lines[i]
			}
		}
		if m := importRe.FindStringSubmatch(line); m != nil {
			if err := s.visit(s.f.resolve(name, m[1])); err != nil {
				return err
			}
			continue
		}
		if pragmaRe.MatchString(line) {
			if s.header == "" {
				s.header = line
			}
			continue
		}
		body.WriteString(line)
	}
	s.seen[name] = true
	s.paths = append(s.paths, name)
	s.out.WriteString(body.String())
	if !strings.HasSuffix(body.String(), "\n") {
		s.out.WriteString("\n")
	}
	return nil
}
