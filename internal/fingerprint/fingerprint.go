// Package fingerprint derives a stable identity key for a candidate record.
//
// The digest is computed from the normalized (name, address, phone) triple,
// not from the provider place id, so the same real-world business discovered
// via different queries collapses to one identity. Normalization is lossy on
// purpose: case folded, punctuation stripped, whitespace collapsed, phone
// reduced to digits. A record with no phone participates with the empty
// string, so name+address alone still produce a stable fingerprint.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
)

// ErrInvalidRecord signals a candidate with no usable identity fields.
// Such records never enter the pipeline.
var ErrInvalidRecord = eris.New("fingerprint: record has no identity fields")

// Compute returns the deterministic fingerprint for rec. It fails only when
// both normalized name and address are empty.
func Compute(rec model.CandidateRecord) (model.Fingerprint, error) {
	name := normalizeText(rec.Name)
	address := normalizeText(rec.Address)
	phone := normalizePhone(rec.Phone)

	if name == "" && address == "" {
		return "", ErrInvalidRecord
	}

	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{'\n'})
	h.Write([]byte(address))
	h.Write([]byte{'\n'})
	h.Write([]byte(phone))

	return model.Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// normalizeText lowercases, strips punctuation and symbols, and collapses
// runs of whitespace into single spaces.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		default:
			// Punctuation and symbols separate tokens the same way
			// whitespace does ("St." vs "St", "Acme-Bakery" vs "Acme Bakery").
			space = true
		}
	}
	return b.String()
}

// normalizePhone keeps digits only and drops the leading country "1" from
// 11-digit NANP numbers, so "+1 (555) 010-0123" and "555.010.0123" unify.
func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}
