package annotool

// The class registry and its line-oriented class-list file.

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ClassEntry is one id to name mapping.
type ClassEntry struct {
	ID   int
	Name string
}

// ClassRegistry is an ordered mapping from class id to label name. Ids and names are unique. Ids
// need not be contiguous. A registry is read-only once a batch operation starts using it.
type ClassRegistry struct {
	entries []ClassEntry
	byID    map[int]int    // id -> index into entries
	byName  map[string]int // name -> index into entries
}

// NewClassRegistry returns an empty registry.
func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{
		byID:   make(map[int]int),
		byName: make(map[string]int),
	}
}

// ClassesFromNames returns a registry assigning ids 0..len(names)-1 in order.
func ClassesFromNames(names []string) (*ClassRegistry, error) {
	r := NewClassRegistry()
	for i, name := range names {
		if err := r.Add(i, name); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add appends a mapping. It fails on a negative or duplicate id, and on an empty or duplicate
// name. The zero ClassRegistry is ready to use.
func (r *ClassRegistry) Add(id int, name string) error {
	switch {
	case id < 0:
		return fmt.Errorf("negative class id %d", id)
	case name == "":
		return fmt.Errorf("empty name for class id %d", id)
	}
	if r.byID == nil {
		r.byID = make(map[int]int)
		r.byName = make(map[string]int)
	}
	if _, ok := r.byID[id]; ok {
		return fmt.Errorf("duplicate class id %d", id)
	}
	if other, ok := r.byName[name]; ok {
		return fmt.Errorf("duplicate class name %q for ids %d and %d", name, r.entries[other].ID, id)
	}

	r.byID[id] = len(r.entries)
	r.byName[name] = len(r.entries)
	r.entries = append(r.entries, ClassEntry{ID: id, Name: name})
	return nil
}

// Resolve returns the name of class id.
func (r *ClassRegistry) Resolve(id int) (string, bool) {
	if r == nil {
		return "", false
	}
	i, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return r.entries[i].Name, true
}

// ID returns the id of the class called name.
func (r *ClassRegistry) ID(name string) (int, bool) {
	if r == nil {
		return 0, false
	}
	i, ok := r.byName[name]
	if !ok {
		return 0, false
	}
	return r.entries[i].ID, true
}

// MaxID returns the largest class id, or -1 for an empty registry.
func (r *ClassRegistry) MaxID() int {
	max := -1
	if r == nil {
		return max
	}
	for _, e := range r.entries {
		if e.ID > max {
			max = e.ID
		}
	}
	return max
}

// Len is the number of classes.
func (r *ClassRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Entries returns a copy of the mappings in registration order.
func (r *ClassRegistry) Entries() []ClassEntry {
	if r == nil {
		return nil
	}
	return append([]ClassEntry(nil), r.entries...)
}

// SortedEntries returns a copy of the mappings ordered by id.
func (r *ClassRegistry) SortedEntries() []ClassEntry {
	entries := r.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// ParseClasses parses a class list, one "<id> <name>" per line. Blank lines and lines starting
// with '#' are ignored. The name is the remainder of the line and may contain spaces.
func ParseClasses(lines []string) (*ClassRegistry, error) {
	return parseClassLines("", lines)
}

func parseClassLines(path string, lines []string) (*ClassRegistry, error) {
	r := NewClassRegistry()
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idField := strings.Fields(line)[0]
		name := strings.TrimSpace(line[len(idField):])
		formatErr := &FormatError{Path: path, Line: i + 1, Value: line}
		id, err := strconv.Atoi(idField)
		if err != nil {
			formatErr.Reason = "class id is not an integer"
			return nil, formatErr
		}
		if name == "" {
			formatErr.Reason = "missing class name"
			return nil, formatErr
		}
		if err := r.Add(id, name); err != nil {
			formatErr.Reason = err.Error()
			return nil, formatErr
		}
	}

	return r, nil
}

// ReadClassFile reads a class-list file.
func ReadClassFile(path string) (*ClassRegistry, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	return parseClassLines(path, lines)
}

// WriteClasses writes r in class-list format, in registration order.
func WriteClasses(w io.Writer, r *ClassRegistry) error {
	for _, e := range r.Entries() {
		if _, err := fmt.Fprintf(w, "%d %s\n", e.ID, e.Name); err != nil {
			return err
		}
	}
	return nil
}

// WriteClassFile atomically writes r to path in class-list format.
func WriteClassFile(path string, r *ClassRegistry) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		return WriteClasses(w, r)
	})
}
