package client

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"time"
)

const zipMimeType = "application/zip"

// ArgError reports an unusable command-line path.
type ArgError struct {
	Arg   string
	Cause string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

// Bundle is a file ready for upload.
type Bundle struct {
	Name     string
	MimeType string
	Data     []byte
}

// archiveEntry maps a source file to its path inside the archive.
type archiveEntry struct {
	src  string
	name string
}

// Pack turns command-line paths into one uploadable file. A single regular
// file is sent as is; a directory or several paths are zipped, the latter
// under a timestamped top-level folder.
func Pack(args []string, now time.Time) (*Bundle, error) {
	if len(args) == 0 {
		return nil, &ArgError{Arg: "<paths>", Cause: "no files provided"}
	}

	type parsed struct {
		path string
		dir  bool
	}
	var paths []parsed
	for _, raw := range args {
		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ArgError{Arg: raw, Cause: "not found or not accessible"}
		}
		paths = append(paths, parsed{path: p, dir: info.IsDir()})
	}

	if len(paths) == 1 && !paths[0].dir {
		data, err := os.ReadFile(paths[0].path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", paths[0].path, err)
		}
		name := filepath.Base(paths[0].path)
		mimeType := mime.TypeByExtension(filepath.Ext(name))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		return &Bundle{Name: name, MimeType: mimeType, Data: data}, nil
	}

	root := ""
	name := ""
	if len(paths) == 1 {
		name = filepath.Base(paths[0].path) + ".zip"
	} else {
		root = fmt.Sprintf("upload_%s", now.Format("2006_01_02_150405"))
		name = root + ".zip"
	}

	var entries []archiveEntry
	for _, p := range paths {
		collected, err := collect(p.path, path.Join(root, filepath.Base(p.path)), p.dir)
		if err != nil {
			return nil, err
		}
		entries = append(entries, collected...)
	}

	data, err := zipEntries(entries)
	if err != nil {
		return nil, err
	}
	return &Bundle{Name: name, MimeType: zipMimeType, Data: data}, nil
}

// collect lists the regular files under src, named relative to prefix.
func collect(src, prefix string, isDir bool) ([]archiveEntry, error) {
	if !isDir {
		return []archiveEntry{{src: src, name: prefix}}, nil
	}

	var entries []archiveEntry
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		entries = append(entries, archiveEntry{src: p, name: path.Join(prefix, filepath.ToSlash(rel))})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", src, err)
	}
	return entries, nil
}

func zipEntries(entries []archiveEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, e := range entries {
		if err := addFileToZip(zw, e.src, e.name); err != nil {
			zw.Close()
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func addFileToZip(zw *zip.Writer, srcPath, archivePath string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", srcPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create zip header: %w", err)
	}
	header.Name = archivePath
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to write file to zip: %w", err)
	}
	return nil
}
