package job

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Key is a structured composite dedup key. It is encoded once, at the
// boundary with the backend, into an opaque job ID.
type Key struct {
	// Namespace distinguishes key families, e.g. "notif".
	Namespace string
	// Parts are the identifiers that make up the key, in order.
	Parts []string
}

// Encode returns "<namespace>_<hex sha256>". Every part is length-prefixed
// before hashing, so ("a-b", "c") and ("a", "b-c") never collide.
func (k Key) Encode() string {
	h := sha256.New()
	var n [8]byte
	for _, p := range append([]string{k.Namespace}, k.Parts...) {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return k.Namespace + "_" + hex.EncodeToString(h.Sum(nil))
}

// NotificationKey identifies the single pending reminder job for a
// (rule, appointment) pair.
func NotificationKey(ruleID, appointmentID string) Key {
	return Key{Namespace: "notif", Parts: []string{ruleID, appointmentID}}
}

// NotificationSyncKey identifies the deferred reconciliation of a
// (rule, appointment) pair whose reminder job was running when it changed.
func NotificationSyncKey(ruleID, appointmentID string) Key {
	return Key{Namespace: "notifsync", Parts: []string{ruleID, appointmentID}}
}
