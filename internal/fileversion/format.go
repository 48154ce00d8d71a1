package fileversion

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// Fingerprint is a cheap proxy for file identity: a file whose path, modification time
// and size are unchanged is assumed to have unchanged content.
type Fingerprint struct {
	Path         string
	LastModified int64 // ticks, see Ticks
	Size         int64
}

// Ticks converts t to 100ns intervals since the Unix epoch.
func Ticks(t time.Time) int64 {
	return t.UTC().UnixNano() / 100
}

// FingerprintOf derives the fingerprint of path from its stat result.
func FingerprintOf(path string, info os.FileInfo) Fingerprint {
	return Fingerprint{Path: path, LastModified: Ticks(info.ModTime()), Size: info.Size()}
}

func (fp Fingerprint) validate() error {
	if fp.Path == "" {
		return fmt.Errorf("fingerprint path is empty")
	}
	if strings.ContainsAny(fp.Path, "\t\n\r") {
		return fmt.Errorf("fingerprint path %q contains a tab or newline", fp.Path)
	}
	return nil
}

// formatLine renders one entry as path\tticks\tsize\thash\n.
func formatLine(fp Fingerprint, h objectid.ContentHash) string {
	return fp.Path + "\t" + strconv.FormatInt(fp.LastModified, 10) + "\t" +
		strconv.FormatInt(fp.Size, 10) + "\t" + h.String() + "\n"
}

func parseLine(line string) (Fingerprint, objectid.ContentHash, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 4 {
		return Fingerprint{}, objectid.Empty, fmt.Errorf("expected 4 fields, got %d", len(fields))
	}
	ticks, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Fingerprint{}, objectid.Empty, fmt.Errorf("invalid ticks: %w", err)
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Fingerprint{}, objectid.Empty, fmt.Errorf("invalid size: %w", err)
	}
	h, err := objectid.ParseContentHash(fields[3])
	if err != nil {
		return Fingerprint{}, objectid.Empty, err
	}
	return Fingerprint{Path: fields[0], LastModified: ticks, Size: size}, h, nil
}

// ReadEntries parses the line format. Malformed lines (typically a line truncated by a
// crash mid-append) are skipped and counted; later lines win for duplicate fingerprints.
func ReadEntries(r io.Reader) (map[Fingerprint]objectid.ContentHash, int, error) {
	entries := make(map[Fingerprint]objectid.ContentHash)
	skipped := 0

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			if !strings.HasSuffix(line, "\n") {
				skipped++
			} else if fp, h, perr := parseLine(strings.TrimSuffix(line, "\n")); perr != nil {
				skipped++
			} else {
				entries[fp] = h
			}
		}
		if err == io.EOF {
			return entries, skipped, nil
		}
		if err != nil {
			return nil, skipped, err
		}
	}
}

// WriteEntries writes entries in the line format, sorted by path then ticks so the
// output is stable.
func WriteEntries(w io.Writer, entries map[Fingerprint]objectid.ContentHash) error {
	keys := make([]Fingerprint, 0, len(entries))
	for fp := range entries {
		keys = append(keys, fp)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		if keys[i].LastModified != keys[j].LastModified {
			return keys[i].LastModified < keys[j].LastModified
		}
		return keys[i].Size < keys[j].Size
	})

	bw := bufio.NewWriter(w)
	for _, fp := range keys {
		if err := fp.validate(); err != nil {
			return err
		}
		if _, err := bw.WriteString(formatLine(fp, entries[fp])); err != nil {
			return err
		}
	}
	return bw.Flush()
}
