// Package labels maps the classifier's raw label codes to canonical breed names.
package labels

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed breeds.txt
var defaultBreeds string

// Catalog resolves a label code emitted by a classifier
type Catalog interface {
	Resolve(code string) (string, bool)
}

// List is an index-addressed catalog: the code of a label is its line number
// in the labels file, counted from zero.
type List struct {
	names []string
	index map[string]int
}

// NewList builds a catalog from names in model output order
func NewList(names []string) *List {
	l := &List{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, n := range names {
		n = strings.TrimSpace(n)
		l.names[i] = n
		key := normalizeKey(n)
		if _, dup := l.index[key]; !dup {
			l.index[key] = i
		}
	}
	return l
}

// Default returns the bundled catalog of 120 dog breeds
func Default() *List {
	l, err := Read(strings.NewReader(defaultBreeds))
	if err != nil {
		panic(fmt.Sprintf("labels: bundled catalog: %v", err))
	}
	return l
}

// LoadFile reads a labels file with one name per line
func LoadFile(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses one label per line. Blank lines keep their index so that codes
// stay aligned with the model's output tensor.
func Read(r io.Reader) (*List, error) {
	var names []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		names = append(names, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	for len(names) > 0 && strings.TrimSpace(names[len(names)-1]) == "" {
		names = names[:len(names)-1]
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("labels: catalog is empty")
	}
	return NewList(names), nil
}

// Resolve maps a numeric code to its canonical name
func (l *List) Resolve(code string) (string, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return "", false
	}
	return l.Name(i)
}

// Name returns the label at index i
func (l *List) Name(i int) (string, bool) {
	if i < 0 || i >= len(l.names) || l.names[i] == "" {
		return "", false
	}
	return l.names[i], true
}

// Code is the reverse of Resolve. Matching ignores case and treats spaces,
// underscores and hyphens alike, so "Golden Retriever" finds golden_retriever.
func (l *List) Code(name string) (string, bool) {
	i, ok := l.index[normalizeKey(name)]
	if !ok {
		return "", false
	}
	return strconv.Itoa(i), true
}

// Len returns the number of entries, blanks included
func (l *List) Len() int {
	return len(l.names)
}

// Names returns a copy of the catalog in code order
func (l *List) Names() []string {
	out := make([]string, len(l.names))
	copy(out, l.names)
	return out
}

// Display turns a canonical name into the title-cased form shown to users
func Display(name string) string {
	s := strings.Join(strings.Fields(strings.ReplaceAll(name, "_", " ")), " ")
	return cases.Title(language.English).String(s)
}

func normalizeKey(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return s
}
