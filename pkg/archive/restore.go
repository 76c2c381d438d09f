package archive

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// RestoreParams names where restored files go. An empty destination skips
// that file.
type RestoreParams struct {
	ArchivePath string
	BoltDest    string
	ConfDest    string
	WorldDest   string
}

// RestoreResult summarizes a completed restore.
type RestoreResult struct {
	Manifest      *Manifest
	FilesRestored int
}

// Restore extracts the bolt snapshot and, when asked, the configuration and
// world files. Every file is checked against the manifest checksum before
// it replaces its destination.
func Restore(p RestoreParams) (*RestoreResult, error) {
	m, err := ReadManifest(p.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	if _, ok := m.Files[boltName]; !ok {
		return nil, fmt.Errorf("restore: %s holds no bolt snapshot", p.ArchivePath)
	}
	dest := func(name string) string {
		switch {
		case name == boltName:
			return p.BoltDest
		case strings.HasPrefix(name, "conf/"):
			return p.ConfDest
		case strings.HasPrefix(name, "world/"):
			return p.WorldDest
		}
		return ""
	}

	res := &RestoreResult{Manifest: m}
	err = walk(p.ArchivePath, func(hdr *tar.Header, r io.Reader) error {
		entry, ok := m.Files[hdr.Name]
		target := dest(hdr.Name)
		if !ok || target == "" {
			return nil
		}
		if err := extract(r, target, entry.SHA256); err != nil {
			return fmt.Errorf("restore %s: %w", hdr.Name, err)
		}
		res.FilesRestored++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// extract writes r to a temp file beside target and renames it into place
// once the checksum matches.
func extract(r io.Reader, target, sum string) error {
	tmp := target + ".restore"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	h := sha256.New()
	if _, err := io.Copy(out, io.TeeReader(r, h)); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != sum {
		os.Remove(tmp)
		return fmt.Errorf("checksum mismatch: got %s, want %s", got, sum)
	}
	return os.Rename(tmp, target)
}
