package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/duke-git/lancet/v2/slice"

	"swift/job-engine/pkg/types"
)

// canonicalRequest holds the fields that define what a request computes.
// ID, Priority and Created are deliberately absent.
type canonicalRequest struct {
	Service string         `json:"service"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	Inputs  []string       `json:"inputs"`
}

// NormalizeInputs cleans, de-duplicates and sorts input paths.
func NormalizeInputs(inputs []string) []string {
	cleaned := make([]string, 0, len(inputs))
	for _, in := range inputs {
		cleaned = append(cleaned, filepath.Clean(in))
	}
	cleaned = slice.Unique(cleaned)
	sort.Strings(cleaned)
	return cleaned
}

// Fingerprint returns the hex SHA-256 of the canonical JSON form of req.
// Map keys are sorted, so the result does not depend on payload or input order.
func Fingerprint(req *types.WorkRequest) (string, error) {
	canonical := canonicalRequest{
		Service: req.Service,
		Type:    req.Type,
		Payload: req.Payload,
		Inputs:  NormalizeInputs(req.Inputs),
	}
	data, err := sonic.ConfigStd.Marshal(&canonical)
	if err != nil {
		return "", types.NewProtocolError("fingerprint request", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
