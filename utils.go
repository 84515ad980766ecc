package annotool

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// filesByExtInDir returns the names of all regular files (or symlinks) with file extension ext
// found directly in directory dirPath, sorted by name. All files are returned if ext is empty.
// The extension comparison ignores case.
func filesByExtInDir(dirPath, ext string) ([]string, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read directory %q: %w", dirPath, err)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		mode := e.Type()
		// Must be a regular file or a symlink and have the requested extension/suffix.
		if (!mode.IsRegular() && mode&os.ModeSymlink == 0) ||
			!strings.HasSuffix(strings.ToLower(e.Name()), strings.ToLower(ext)) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	return files, nil
}

// splitPath splits the given file path into the dir name, the base name without extension and the
// extension (without the dot).
func splitPath(path string) (dir, baseNoExt, ext string, err error) {
	dir, file := filepath.Split(path)
	ext = filepath.Ext(file)
	if ext == "" {
		return "", "", "", fmt.Errorf("missing file extension in %q", path)
	}

	dir = strings.TrimSuffix(dir, string(os.PathSeparator))
	baseNoExt = file[0 : len(file)-len(ext)]
	ext = ext[1:]

	return dir, baseNoExt, ext, nil
}

// baseNoExt returns the file name of path without directory and extension.
func baseNoExt(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// mapFileNamesToNames maps the base names of the given file names, with the file type extensions
// stripped off, to the full file name. On a collision the first name in order wins.
func mapFileNamesToNames(names []string) map[string]string {
	mapping := make(map[string]string, len(names))
	for _, name := range names {
		_, base, _, err := splitPath(name)
		if err != nil {
			log.Print(err)
			continue
		}
		if _, ok := mapping[base]; !ok {
			mapping[base] = name
		}
	}

	return mapping
}

// readLines returns a slice of lines read from the file at path.
func readLines(path string) (lines []string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read file %q: %w", path, err)
	}
	defer closeWithErrCheck(file, &err)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %q as lines: %w", path, err)
	}

	return lines, nil
}

// writeFileAtomic writes the output of write to a temporary file in the directory of path and
// renames it to path once complete, so that a failure never leaves a partial file behind.
func writeFileAtomic(path string, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("cannot write file %q: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cannot write file %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cannot write file %q: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// closeWithErrCheck calls c.Close(). If it returns an error, and (*e == nil), e is set to that
// error.
func closeWithErrCheck(c io.Closer, e *error) {
	err := c.Close()
	if err != nil && *e == nil {
		*e = err
	}
}
