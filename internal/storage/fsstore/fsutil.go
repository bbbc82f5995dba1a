// Package fsstore implements the Storage Contract against a plain
// directory tree: sessions/<slug>/ holds one session's artifacts, and a
// handful of root-level files hold the process-wide entropy stream and
// shared character catalog.
package fsstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// writeFileAtomic writes data to path via write-temp-then-rename so a
// reader never observes a partially written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := ensureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// readNonBlankLines returns every non-blank line of path, or an empty
// slice if the file does not exist yet.
func readNonBlankLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// rewriteLines durably replaces path's contents with lines, one per line.
// Used both to append (by passing the full new set) and to roll back a
// failed commit by truncating to a prior line count.
func rewriteLines(path string, lines []string) error {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return writeFileAtomic(path, []byte(b.String()))
}

func jsonLine(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func sanitizeSlug(slug string) (string, error) {
	if slug == "" || strings.ContainsAny(slug, "/\\.") || strings.TrimSpace(slug) != slug {
		return "", fmt.Errorf("fsstore: invalid session slug %q", slug)
	}
	return slug, nil
}
