// Package identity derives the deterministic identifiers and dedupe hashes
// that let repeated ingestion of the same memory text converge on the same
// record instead of piling up duplicates.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// MemoryID derives a stable UUIDv5 for a memory from its tenant scope and
// text. Two tenants (or two agents within the same org) that happen to save
// the same text get different IDs, because the namespace itself is derived
// from org_id and agent_id before the text is folded in.
func MemoryID(orgID, agentID, text string) uuid.UUID {
	namespace := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("memory::%s::%s", orgID, agentID)))
	return uuid.NewSHA1(namespace, []byte(text))
}

// DedupeHash returns the stable SHA-256 digest used to detect that a
// candidate memory already exists for this org/agent/user scope, regardless
// of the ID a particular write attempt would derive.
func DedupeHash(orgID, agentID, userID, text string) string {
	h := sha256.New()
	h.Write([]byte(orgID))
	h.Write([]byte("|"))
	h.Write([]byte(agentID))
	h.Write([]byte("|"))
	h.Write([]byte(userID))
	h.Write([]byte("|"))
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
