package objectid

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// URLType distinguishes source files on disk from artifacts in the object database.
type URLType uint8

const (
	URLTypeFile URLType = iota + 1
	URLTypeContent
)

// String returns the URL scheme.
func (t URLType) String() string {
	switch t {
	case URLTypeFile:
		return "file"
	case URLTypeContent:
		return "content"
	default:
		return "unknown"
	}
}

// ParseURLType is the inverse of URLType.String.
func ParseURLType(s string) (URLType, error) {
	switch s {
	case "file":
		return URLTypeFile, nil
	case "content":
		return URLTypeContent, nil
	default:
		return 0, fmt.Errorf("unknown url type %q", s)
	}
}

// Location is the logical identity of a build artifact or source file.
// It is comparable and safe to use as a map key.
type Location struct {
	Type URLType
	Path string
}

// NewLocation builds a Location with a normalized path.
func NewLocation(t URLType, p string) Location {
	return Location{Type: t, Path: normalizePath(t, p)}
}

// File is shorthand for NewLocation(URLTypeFile, p).
func File(p string) Location { return NewLocation(URLTypeFile, p) }

// Content is shorthand for NewLocation(URLTypeContent, p).
func Content(p string) Location { return NewLocation(URLTypeContent, p) }

// ParseLocation parses the "type:path" form produced by String.
func ParseLocation(s string) (Location, error) {
	kind, p, ok := strings.Cut(s, ":")
	if !ok || p == "" {
		return Location{}, fmt.Errorf("invalid location %q", s)
	}
	t, err := ParseURLType(kind)
	if err != nil {
		return Location{}, err
	}
	return NewLocation(t, p), nil
}

// IsZero reports whether l is the zero Location.
func (l Location) IsZero() bool { return l.Type == 0 && l.Path == "" }

// String formats l as scheme:path.
func (l Location) String() string { return l.Type.String() + ":" + l.Path }

// Less orders locations by type, then path.
func (l Location) Less(other Location) bool {
	if l.Type != other.Type {
		return l.Type < other.Type
	}
	return l.Path < other.Path
}

// SortedLocations returns the keys of m in Less order.
func SortedLocations[V any](m map[Location]V) []Location {
	out := make([]Location, 0, len(m))
	for loc := range m {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// MarshalText implements encoding.TextMarshaler so locations can key JSON maps.
func (l Location) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Location) UnmarshalText(text []byte) error {
	parsed, err := ParseLocation(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func normalizePath(t URLType, p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" {
		return p
	}
	cleaned := path.Clean(p)
	if t == URLTypeContent && !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	return cleaned
}
