package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"

	"swift/job-engine/pkg/types"
)

// Store persists successful results by fingerprint.
type Store interface {
	// Lookup returns the stored result if it is still valid. Invalid entries
	// are removed and reported as missing.
	Lookup(fingerprint string) (*types.WorkResult, bool, error)
	// Put records the result of req.
	Put(fingerprint string, req *types.WorkRequest, result *types.WorkResult) error
	Remove(fingerprint string) error
}

// FileRecord is a file path together with the SHA-256 of its content.
type FileRecord struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Metadata is the content of metadata.json in an entry directory.
type Metadata struct {
	Fingerprint string         `json:"fingerprint"`
	Service     string         `json:"service"`
	Inputs      []FileRecord   `json:"inputs"`
	Outputs     []FileRecord   `json:"outputs"`
	Data        map[string]any `json:"data,omitempty"`
	Completed   time.Time      `json:"completed"`
}

// FileStore keeps one directory per fingerprint:
//
//	{dir}/
//	  {fp[0:2]}/
//	    {fp}/
//	      metadata.json
//	      outputs/
//	        {index}.blob
//
// An entry is valid while every recorded input still has the recorded content
// hash and every output copy exists. Outputs missing or changed at their
// original paths are restored from the copies on lookup.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the root directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) entryPath(fp string) string {
	if len(fp) < 2 {
		return filepath.Join(s.dir, fp)
	}
	return filepath.Join(s.dir, fp[:2], fp)
}

func blobName(i int) string {
	return fmt.Sprintf("%d.blob", i)
}

// Lookup returns the stored result for fp when the entry is still valid.
func (s *FileStore) Lookup(fp string) (*types.WorkResult, bool, error) {
	entryDir := s.entryPath(fp)
	data, err := os.ReadFile(filepath.Join(entryDir, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading cache metadata: %w", err)
	}

	var meta Metadata
	if err := sonic.Unmarshal(data, &meta); err != nil {
		return nil, false, s.invalidate(fp)
	}
	if meta.Fingerprint != fp || !s.valid(entryDir, &meta) {
		return nil, false, s.invalidate(fp)
	}

	result := &types.WorkResult{Data: meta.Data}
	for i, out := range meta.Outputs {
		if err := restore(filepath.Join(entryDir, "outputs", blobName(i)), out); err != nil {
			return nil, false, fmt.Errorf("restoring %s: %w", out.Path, err)
		}
		result.Outputs = append(result.Outputs, out.Path)
	}
	return result, true, nil
}

func (s *FileStore) valid(entryDir string, meta *Metadata) bool {
	for _, in := range meta.Inputs {
		sum, err := fileSHA256(in.Path)
		if err != nil || sum != in.SHA256 {
			return false
		}
	}
	for i := range meta.Outputs {
		if _, err := os.Stat(filepath.Join(entryDir, "outputs", blobName(i))); err != nil {
			return false
		}
	}
	return true
}

func (s *FileStore) invalidate(fp string) error {
	if err := s.Remove(fp); err != nil {
		return fmt.Errorf("removing stale cache entry: %w", err)
	}
	return nil
}

// restore copies the blob back to the output path unless the file there is already identical.
func restore(blob string, out FileRecord) error {
	if sum, err := fileSHA256(out.Path); err == nil && sum == out.SHA256 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(out.Path), 0o755); err != nil {
		return err
	}
	return copyFileAtomic(blob, out.Path)
}

// Put stores the result of req under fp. The entry is written into a temp
// directory and renamed into place, so a crash never leaves a partial entry.
func (s *FileStore) Put(fp string, req *types.WorkRequest, result *types.WorkResult) error {
	if result == nil {
		result = &types.WorkResult{}
	}
	entryDir := s.entryPath(fp)
	parentDir := filepath.Dir(entryDir)
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmpDir, err := os.MkdirTemp(parentDir, "tmp-entry-"+fp+"-")
	if err != nil {
		return fmt.Errorf("creating temp cache entry dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	meta := Metadata{
		Fingerprint: fp,
		Service:     req.Service,
		Data:        result.Data,
		Completed:   time.Now().UTC(),
	}
	for _, in := range NormalizeInputs(req.Inputs) {
		sum, err := fileSHA256(in)
		if err != nil {
			return fmt.Errorf("hashing input %s: %w", in, err)
		}
		meta.Inputs = append(meta.Inputs, FileRecord{Path: in, SHA256: sum})
	}

	outputsDir := filepath.Join(tmpDir, "outputs")
	if err := os.MkdirAll(outputsDir, 0o755); err != nil {
		return fmt.Errorf("creating cache outputs dir: %w", err)
	}
	for i, out := range result.Outputs {
		if err := copyFileAtomic(out, filepath.Join(outputsDir, blobName(i))); err != nil {
			return fmt.Errorf("copying output %s: %w", out, err)
		}
		sum, err := fileSHA256(out)
		if err != nil {
			return fmt.Errorf("hashing output %s: %w", out, err)
		}
		meta.Outputs = append(meta.Outputs, FileRecord{Path: out, SHA256: sum})
	}

	data, err := sonic.ConfigStd.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache metadata: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(tmpDir, "metadata.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing cache metadata: %w", err)
	}

	// A crash between remove and rename yields a miss, not corruption.
	_ = os.RemoveAll(entryDir)
	if err := os.Rename(tmpDir, entryDir); err != nil {
		return fmt.Errorf("committing cache entry: %w", err)
	}
	committed = true
	return nil
}

// Remove deletes the entry for fp. Removing a missing entry is not an error.
func (s *FileStore) Remove(fp string) error {
	err := os.RemoveAll(s.entryPath(fp))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFileAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
