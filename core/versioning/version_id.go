package versioning

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
)

const HashSize = 32

// tokenBytes is how much of the hash a version token carries.
const tokenBytes = 16

type ContentHash [HashSize]byte

func ComputeContentHash(content []byte) ContentHash {
	return ContentHash(sha256.Sum256(content))
}

func (c ContentHash) String() string {
	return hex.EncodeToString(c[:])
}

func (c ContentHash) Short() string {
	return hex.EncodeToString(c[:4])
}

func (c ContentHash) IsZero() bool {
	return c == ContentHash{}
}

func ParseContentHash(s string) (ContentHash, error) {
	bytes, err := hex.DecodeString(s)
	if err != nil {
		return ContentHash{}, err
	}
	var hash ContentHash
	copy(hash[:], bytes)
	return hash, nil
}

// VersionID identifies one stored revision of a note: the content hash
// mixed with the revision counter, so reverting text still moves the token.
type VersionID [HashSize]byte

func ComputeVersionID(content []byte, revision int64) VersionID {
	h := sha256.New()
	h.Write(content)
	var rev [8]byte
	binary.BigEndian.PutUint64(rev[:], uint64(revision))
	h.Write(rev[:])
	var id VersionID
	copy(id[:], h.Sum(nil))
	return id
}

func (v VersionID) String() string {
	return hex.EncodeToString(v[:])
}

func (v VersionID) IsZero() bool {
	return v == VersionID{}
}

// Token renders the id as a weak entity tag.
func (v VersionID) Token() string {
	return weak(v[:tokenBytes])
}

// ContentToken is the version token of text that carries no revision.
func ContentToken(text string) string {
	hash := ComputeContentHash([]byte(text))
	return weak(hash[:tokenBytes])
}

// RevisionToken is the version token of text stored at revision.
func RevisionToken(text string, revision int64) string {
	return ComputeVersionID([]byte(text), revision).Token()
}

func weak(b []byte) string {
	return `W/"` + hex.EncodeToString(b) + `"`
}

// NormalizeToken strips the weak prefix and quotes, so that `W/"abc"`,
// `"abc"` and `abc` compare equal.
func NormalizeToken(token string) string {
	t := strings.TrimSpace(token)
	t = strings.TrimPrefix(t, "W/")
	t = strings.TrimPrefix(t, "w/")
	return strings.Trim(t, `"`)
}

func TokensMatch(a, b string) bool {
	return NormalizeToken(a) == NormalizeToken(b)
}
