// Package archive bundles a bolt snapshot with the configuration and world
// files it was built from into a single .tar.gz, and restores one back.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"
)

const (
	manifestName = "manifest.json"
	boltName     = "data/game.bolt"
)

// Manifest describes the contents of an archive.
type Manifest struct {
	Version   int                  `json:"version"`
	Server    string               `json:"server"`
	Timestamp string               `json:"timestamp"`
	Objects   int                  `json:"objects"`
	Files     map[string]FileEntry `json:"files"`
}

// FileEntry describes a single file within the archive.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Type   string `json:"type"` // "bolt", "conf" or "world"
}

// Params holds the inputs to Create.
type Params struct {
	Snapshot  func(destPath string) error // writes a consistent copy of the bolt file
	ConfPath  string                      // empty to skip
	WorldPath string                      // empty to skip
	Dir       string                      // output directory
	Server    string                      // server version for the manifest
	Objects   int
}

// Create writes a timestamped archive into p.Dir and returns its path.
func Create(p Params) (string, error) {
	if p.Snapshot == nil {
		return "", fmt.Errorf("archive: no snapshot function")
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: create dir %s: %w", p.Dir, err)
	}
	tmpDir, err := os.MkdirTemp("", "mush-archive-*")
	if err != nil {
		return "", fmt.Errorf("archive: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	staged := filepath.Join(tmpDir, "game.bolt")
	if err := p.Snapshot(staged); err != nil {
		return "", fmt.Errorf("archive: bolt snapshot: %w", err)
	}

	now := time.Now()
	path := filepath.Join(p.Dir, fmt.Sprintf("archive-%s.tar.gz", now.Format("20060102-150405")))
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("archive: create %s: %w", path, err)
	}
	defer out.Close()
	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	m := Manifest{
		Version:   1,
		Server:    p.Server,
		Timestamp: now.UTC().Format(time.RFC3339),
		Objects:   p.Objects,
		Files:     make(map[string]FileEntry),
	}
	add := func(src, name, kind string) error {
		entry, err := addFileToTar(tw, src, name)
		if err != nil {
			return err
		}
		entry.Type = kind
		m.Files[name] = entry
		return nil
	}
	if err := add(staged, boltName, "bolt"); err != nil {
		return "", err
	}
	if p.ConfPath != "" {
		if err := add(p.ConfPath, "conf/"+filepath.Base(p.ConfPath), "conf"); err != nil {
			return "", err
		}
	}
	if p.WorldPath != "" {
		if err := add(p.WorldPath, "world/"+filepath.Base(p.WorldPath), "world"); err != nil {
			return "", err
		}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: marshal manifest: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    manifestName,
		Size:    int64(len(data)),
		Mode:    0o644,
		ModTime: now,
	}); err != nil {
		return "", fmt.Errorf("archive: write manifest header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return "", fmt.Errorf("archive: write manifest: %w", err)
	}
	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("archive: close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("archive: close gzip: %w", err)
	}
	return path, out.Close()
}

// addFileToTar copies one file into the archive, hashing it on the way.
func addFileToTar(tw *tar.Writer, src, name string) (FileEntry, error) {
	f, err := os.Open(src)
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: open %s: %w", src, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: stat %s: %w", src, err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Size:    info.Size(),
		Mode:    0o644,
		ModTime: info.ModTime(),
	}); err != nil {
		return FileEntry{}, fmt.Errorf("archive: header %s: %w", name, err)
	}
	h := sha256.New()
	n, err := io.Copy(tw, io.TeeReader(f, h))
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: write %s: %w", name, err)
	}
	return FileEntry{SHA256: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

// Info describes an archive on disk.
type Info struct {
	Path      string
	Size      int64
	Timestamp string
	Objects   int
}

// List returns the archives in dir, newest first.
func List(dir string) ([]Info, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.tar.gz"))
	if err != nil {
		return nil, fmt.Errorf("archive: glob %s: %w", dir, err)
	}
	var out []Info
	for _, path := range matches {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		ai := Info{
			Path:      path,
			Size:      st.Size(),
			Timestamp: st.ModTime().UTC().Format(time.RFC3339),
		}
		if m, err := ReadManifest(path); err == nil {
			ai.Timestamp = m.Timestamp
			ai.Objects = m.Objects
		}
		out = append(out, ai)
	}
	// RFC3339 sorts lexically
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

// ReadManifest extracts only the manifest of an archive.
func ReadManifest(path string) (*Manifest, error) {
	var m *Manifest
	err := walk(path, func(hdr *tar.Header, r io.Reader) error {
		if hdr.Name != manifestName {
			return nil
		}
		m = new(Manifest)
		return json.NewDecoder(r).Decode(m)
	})
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("archive: %s has no manifest", path)
	}
	return m, nil
}

// walk calls fn for every regular file in a .tar.gz.
func walk(path string, fn func(*tar.Header, io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("archive: %s: %w", path, err)
	}
	defer gr.Close()
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive: %s: %w", path, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}
