package canonical

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash domains. The version suffix leaves room for a different algorithm.
const (
	DomainManifest = "onion/manifest/v1"
)

// Hash returns the hex SHA-256 of domain, a 0x00 separator and the canonical
// JSON of v. The separator keeps domain and data from running together.
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
