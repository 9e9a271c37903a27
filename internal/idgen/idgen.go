// Package idgen generates globally unique, content-addressed
// identifiers: experience ids and export/snapshot content hashes.
package idgen

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// CanonicalJSON marshals v deterministically: object keys sorted,
// no HTML escaping, no trailing newline. Used wherever two nodes
// must agree byte-for-byte on a hash input.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("idgen: marshal: %w", err)
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("idgen: unmarshal for canonicalization: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonicalize(generic)); err != nil {
		return nil, fmt.Errorf("idgen: canonical marshal: %w", err)
	}

	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out, nil
}

func canonicalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]interface{}, len(t))
		for _, k := range keys {
			out[k] = canonicalize(t[k])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return t
	}
}

// FromBytes generates a CIDv1 (raw codec, sha2-256) over data.
func FromBytes(data []byte) (cid.Cid, error) {
	if len(data) == 0 {
		return cid.Undef, fmt.Errorf("idgen: cannot generate CID from empty data")
	}
	hash := sha256.Sum256(data)
	mh, err := multihash.Encode(hash[:], multihash.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("idgen: multihash encode: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// NewExperienceID returns a globally unique, content-addressed id for
// an experience payload: the CID over its canonical JSON plus a
// random nonce, so two byte-identical experiences recorded seconds
// apart still get distinct ids (invariant: ids are globally unique,
// not content-unique).
func NewExperienceID(canonicalPayload []byte) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("idgen: reading nonce: %w", err)
	}

	seed := append(append([]byte{}, canonicalPayload...), nonce...)
	c, err := FromBytes(seed)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// ContentCID returns the content_cid reported alongside an export: a
// CID over the export's canonical JSON, letting two nodes confirm
// byte-identical state without re-transferring it.
func ContentCID(v interface{}) (string, error) {
	canon, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	c, err := FromBytes(canon)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}
