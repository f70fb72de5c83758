package payments

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"strings"
)

// ParamString is the provider's canonical form: every field except signature, in received
// order, as key=urlencode(trimmed value), joined with '&'.
func ParamString(fields []Field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Key == "signature" {
			continue
		}
		parts = append(parts, f.Key+"="+url.QueryEscape(strings.TrimSpace(f.Value)))
	}
	return strings.Join(parts, "&")
}

// Sign computes the md5 signature over the canonical param string with the passphrase appended.
func Sign(fields []Field, passphrase string) string {
	s := ParamString(fields)
	if passphrase != "" {
		s += "&passphrase=" + url.QueryEscape(strings.TrimSpace(passphrase))
	}
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func VerifySignature(n *Notification, passphrase string) bool {
	got := strings.ToLower(strings.TrimSpace(n.Signature()))
	if got == "" {
		return false
	}
	want := Sign(n.Fields, passphrase)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// EncodeSigned renders fields as a form body in the given order with the signature appended,
// the way the provider posts a notification.
func EncodeSigned(fields []Field, passphrase string) []byte {
	parts := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		if f.Key == "signature" {
			continue
		}
		parts = append(parts, url.QueryEscape(f.Key)+"="+url.QueryEscape(f.Value))
	}
	parts = append(parts, "signature="+Sign(fields, passphrase))
	return []byte(strings.Join(parts, "&"))
}
