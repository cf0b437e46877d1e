// Package run holds the mutable state of one generation run: the ordered
// unit arena, snapshot/restore support for transactional stages, and
// per-unit content fingerprints.
package run

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"strings"

	"github.com/fyrsmithlabs/storyguard/internal/critic"
)

// Unit is one generated text unit (a scene, chapter, or rewrite target).
type Unit struct {
	ID        string
	RawText   string
	CleanText string
	WordCount int

	// HashRaw and HashClean pin content identity across stages.
	HashRaw   string
	HashClean string

	// Retried marks that the critic gate spent a semantic retry on this
	// unit. Defects holds everything the gate recorded on the accepted
	// attempt.
	Retried bool
	Defects map[critic.DefectKind]bool
}

// NewUnit builds a unit around raw provider output.
func NewUnit(id, rawText string) *Unit {
	u := &Unit{ID: id, Defects: make(map[critic.DefectKind]bool)}
	u.SetRaw(rawText)
	return u
}

// SetRaw updates the raw text and its hash.
func (u *Unit) SetRaw(text string) {
	u.RawText = text
	u.HashRaw = contentHash(text)
}

// SetClean updates the clean text, its hash, and the word count.
func (u *Unit) SetClean(text string) {
	u.CleanText = text
	u.HashClean = contentHash(text)
	u.WordCount = len(strings.Fields(text))
}

// Text returns the best available content: clean when present, raw
// otherwise.
func (u *Unit) Text() string {
	if u.CleanText != "" {
		return u.CleanText
	}
	return u.RawText
}

// Clone deep-copies the unit so a mutation cannot reach a snapshot.
func (u *Unit) Clone() *Unit {
	c := *u
	c.Defects = make(map[critic.DefectKind]bool, len(u.Defects))
	for k, v := range u.Defects {
		c.Defects[k] = v
	}
	return &c
}

// Fingerprint is a short, content-derived identity used by the integrity
// checker to detect mass content collapse. Distinct from the full hashes:
// it survives whitespace-only edits.
func (u *Unit) Fingerprint() uint64 {
	h := fnv.New64a()
	for _, f := range strings.Fields(u.Text()) {
		h.Write([]byte(strings.ToLower(f)))
		h.Write([]byte{' '})
	}
	return h.Sum64()
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}
