package analyze

import (
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"

	"github.com/vthunder/moments/internal/types"
)

// Fingerprint digests a content item's identity and body prefix. Change
// detection compares these across runs, so the input must be stable: item ID,
// disk path, updated timestamp (RFC3339, UTC) and the first bodyPrefix bytes
// of the body. Truncation keeps hashing cheap for large files while still
// catching edits together with the timestamp.
func Fingerprint(item types.ContentItem, bodyPrefix int) string {
	body := item.Body
	if len(body) > bodyPrefix {
		body = body[:bodyPrefix]
	}

	h := blake3.New()
	h.Write([]byte(item.ID))
	h.Write([]byte{0})
	h.Write([]byte(item.Path))
	h.Write([]byte{0})
	h.Write([]byte(item.UpdatedAt.UTC().Format(time.RFC3339)))
	h.Write([]byte{0})
	h.Write([]byte(body))

	return hex.EncodeToString(h.Sum(nil))
}
