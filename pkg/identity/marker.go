// Package identity computes the salted author marker embedded in rendered
// cards. The marker lets recovery re-identify an author without storing the
// author id in the card itself.
package identity

import (
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// MarkerLen is the number of hex characters kept from the digest.
const MarkerLen = 16

type Marker struct {
	key []byte
}

// NewMarker keys the hash with salt. blake2b accepts keys up to 64 bytes;
// longer salts are folded through an unkeyed digest first.
func NewMarker(salt string) *Marker {
	key := []byte(salt)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	return &Marker{key: key}
}

// For returns the marker for a post written by userID. Including the post id
// keeps markers of one author unlinkable across posts.
func (m *Marker) For(postID uint64, userID string) string {
	h, err := blake2b.New256(m.key)
	if err != nil {
		// only returned for keys longer than 64 bytes
		panic(err)
	}
	h.Write([]byte(strconv.FormatUint(postID, 10)))
	h.Write([]byte{':'})
	h.Write([]byte(userID))
	return hex.EncodeToString(h.Sum(nil))[:MarkerLen]
}

// Match reports whether marker was produced for postID by userID.
func (m *Marker) Match(marker string, postID uint64, userID string) bool {
	return marker != "" && m.For(postID, userID) == marker
}
