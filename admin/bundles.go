package admin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// BundleEntry is one catalog entry in transportable form. Spec is the JSON
// action document, carried as a string so the signature covers exact bytes.
type BundleEntry struct {
	Key     string `yaml:"key" json:"key"`
	Version int    `yaml:"version" json:"version"`
	Kind    string `yaml:"kind" json:"kind"`
	Spec    string `yaml:"spec" json:"spec"`
}

// Bundle is the YAML interchange format for moving catalog entries between
// environments. The signature, when present, is HMAC-SHA256 over the
// canonical JSON encoding of the entries.
type Bundle struct {
	Entries   []BundleEntry `yaml:"entries"`
	Signature string        `yaml:"signature,omitempty"`
}

// BundleDiff summarizes an import: which keys gained a new version, which
// changed content (imported as a fresh version), and which matched exactly.
type BundleDiff struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
}

func signEntries(entries []BundleEntry, secret string) (string, error) {
	canonical, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// ExportBundle serializes the full catalog. A non-empty secret attaches a
// signature the importing side can verify.
func (c *Catalog) ExportBundle(ctx context.Context, secret string) ([]byte, error) {
	records, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	bundle := Bundle{}
	for _, rec := range records {
		bundle.Entries = append(bundle.Entries, BundleEntry{
			Key:     rec.Key,
			Version: rec.Version,
			Kind:    rec.Kind,
			Spec:    string(rec.Spec),
		})
	}
	if secret != "" {
		sig, err := signEntries(bundle.Entries, secret)
		if err != nil {
			return nil, err
		}
		bundle.Signature = sig
	}
	return yaml.Marshal(&bundle)
}

// ImportBundle applies a bundle to the catalog. A non-empty secret requires a
// matching signature; any mismatch rejects the whole bundle before a single
// entry is touched. Imports never mutate existing versions: a changed spec
// for an existing (key, version) is appended as a fresh version instead.
func (c *Catalog) ImportBundle(ctx context.Context, raw []byte, secret, createdBy string, dryRun bool) (*BundleDiff, error) {
	var bundle Bundle
	if err := yaml.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("parsing bundle: %w", err)
	}
	if secret != "" {
		want, err := signEntries(bundle.Entries, secret)
		if err != nil {
			return nil, err
		}
		if bundle.Signature == "" || !hmac.Equal([]byte(want), []byte(bundle.Signature)) {
			return nil, ErrBadSignature
		}
	}

	// validate everything before writing anything
	for _, entry := range bundle.Entries {
		if _, err := ParseSpec(entry.Kind, []byte(entry.Spec)); err != nil {
			return nil, fmt.Errorf("bundle entry %s@%d: %w", entry.Key, entry.Version, err)
		}
	}

	diff := &BundleDiff{}
	for _, entry := range bundle.Entries {
		label := fmt.Sprintf("%s@%d", entry.Key, entry.Version)
		existing, err := c.Get(ctx, entry.Key, entry.Version)
		switch {
		case err == nil && specEqual(existing.Spec, []byte(entry.Spec)):
			diff.Unchanged = append(diff.Unchanged, label)
			continue
		case err == nil:
			// content drifted: append as a new version, never overwrite
			if !dryRun {
				if _, err := c.CreateVersion(ctx, entry.Key, 0, entry.Kind, []byte(entry.Spec), createdBy); err != nil {
					return nil, fmt.Errorf("bundle entry %s: %w", label, err)
				}
			}
			diff.Updated = append(diff.Updated, label)
		case err == ErrActionNotFound:
			if !dryRun {
				if _, err := c.CreateVersion(ctx, entry.Key, entry.Version, entry.Kind, []byte(entry.Spec), createdBy); err != nil {
					return nil, fmt.Errorf("bundle entry %s: %w", label, err)
				}
			}
			diff.Created = append(diff.Created, label)
		default:
			return nil, err
		}
	}
	if !dryRun {
		bundleImports.Inc()
	}
	return diff, nil
}

// specEqual compares two spec documents structurally, so formatting-only
// differences do not count as drift.
func specEqual(a, b []byte) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	ac, err := json.Marshal(av)
	if err != nil {
		return false
	}
	bc, err := json.Marshal(bv)
	if err != nil {
		return false
	}
	return string(ac) == string(bc)
}
