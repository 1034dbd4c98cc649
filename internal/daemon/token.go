package daemon

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"swift/job-engine/pkg/types"
)

// TokenTranslator rewrites file paths to and from host-independent tokens.
// A token names a configured root and a slash-separated path below it.
type TokenTranslator struct {
	names []string // longest directory first
	roots map[string]string
}

// NewTokenTranslator creates a translator for the given root name to directory mapping.
func NewTokenTranslator(roots map[string]string) (*TokenTranslator, error) {
	t := &TokenTranslator{roots: make(map[string]string, len(roots))}
	for name, dir := range roots {
		if name == "" || strings.Contains(name, ":") {
			return nil, types.NewConfigError(fmt.Sprintf("invalid file root name %q", name), nil)
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, types.NewConfigError("resolve file root "+name, err)
		}
		t.roots[name] = filepath.Clean(abs)
		t.names = append(t.names, name)
	}
	sort.Slice(t.names, func(i, j int) bool {
		a, b := t.roots[t.names[i]], t.roots[t.names[j]]
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return t.names[i] < t.names[j]
	})
	return t, nil
}

// ToToken converts a local path into a token using the most specific root containing it.
func (t *TokenTranslator) ToToken(local string) (string, error) {
	abs, err := filepath.Abs(local)
	if err != nil {
		return "", types.NewProtocolError("resolve "+local, err)
	}
	for _, name := range t.names {
		rel, err := filepath.Rel(t.roots[name], abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return name + ":" + filepath.ToSlash(rel), nil
	}
	return "", types.NewProtocolError(fmt.Sprintf("path %s is outside every file root", local), nil)
}

// ToLocal converts a token back into a path on this host.
func (t *TokenTranslator) ToLocal(token string) (string, error) {
	name, rel, ok := strings.Cut(token, ":")
	if !ok {
		return "", types.NewProtocolError(fmt.Sprintf("malformed file token %q", token), nil)
	}
	dir, ok := t.roots[name]
	if !ok {
		return "", types.NewProtocolError(fmt.Sprintf("unknown file root %q in token %q", name, token), nil)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", types.NewProtocolError(fmt.Sprintf("file token %q escapes its root", token), nil)
	}
	return filepath.Join(dir, clean), nil
}

func (t *TokenTranslator) mapAll(paths []string, fn func(string) (string, error)) ([]string, error) {
	if paths == nil {
		return nil, nil
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		v, err := fn(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// RequestToTokens returns a copy of req whose inputs are tokens.
func (t *TokenTranslator) RequestToTokens(req *types.WorkRequest) (*types.WorkRequest, error) {
	c := req.Clone()
	inputs, err := t.mapAll(req.Inputs, t.ToToken)
	if err != nil {
		return nil, err
	}
	c.Inputs = inputs
	return c, nil
}

// RequestToLocal returns a copy of req whose inputs are local paths.
func (t *TokenTranslator) RequestToLocal(req *types.WorkRequest) (*types.WorkRequest, error) {
	c := req.Clone()
	inputs, err := t.mapAll(req.Inputs, t.ToLocal)
	if err != nil {
		return nil, err
	}
	c.Inputs = inputs
	return c, nil
}

// ResultToTokens rewrites the outputs of res in place as tokens.
func (t *TokenTranslator) ResultToTokens(res *types.WorkResult) error {
	outputs, err := t.mapAll(res.Outputs, t.ToToken)
	if err != nil {
		return err
	}
	res.Outputs = outputs
	return nil
}

// ResultToLocal rewrites the outputs of res in place as local paths.
func (t *TokenTranslator) ResultToLocal(res *types.WorkResult) error {
	outputs, err := t.mapAll(res.Outputs, t.ToLocal)
	if err != nil {
		return err
	}
	res.Outputs = outputs
	return nil
}
