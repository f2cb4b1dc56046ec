// Package signing implements the canonical parameter string and keyed
// HMAC-SHA512 signature used on both legs of the payment gateway protocol.
//
// The canonical string is built by sorting parameter names byte-wise,
// query-escaping each name and value, and joining "name=value" pairs with
// "&". Parameters with empty values and the signature fields themselves are
// left out. The same string doubles as the outbound query string.
package signing

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

const (
	SignatureField     = "vnp_SecureHash"
	SignatureTypeField = "vnp_SecureHashType"
)

func isSignatureField(name string) bool {
	return name == SignatureField || name == SignatureTypeField
}

// Canonicalize renders params in canonical form.
func Canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" || isSignatureField(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// Signer signs and verifies parameter sets with a shared secret. The secret
// never leaves the Signer.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the lowercase hex HMAC-SHA512 of the canonical string.
func (s *Signer) Sign(params map[string]string) string {
	return hex.EncodeToString(s.mac(Canonicalize(params)))
}

// Verify reports whether signature matches params. Signature fields inside
// params are ignored, and hex case does not matter.
func (s *Signer) Verify(params map[string]string, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) != sha512.Size {
		return false
	}
	return hmac.Equal(s.mac(Canonicalize(params)), got)
}

// SignedQuery returns the canonical query string with the signature appended
// as the final parameter.
func (s *Signer) SignedQuery(params map[string]string) (query, signature string) {
	canonical := Canonicalize(params)
	signature = hex.EncodeToString(s.mac(canonical))
	return canonical + "&" + SignatureField + "=" + signature, signature
}

func (s *Signer) mac(canonical string) []byte {
	h := hmac.New(sha512.New, s.secret)
	h.Write([]byte(canonical))
	return h.Sum(nil)
}

// Split copies params without the signature fields and returns the supplied
// signature separately.
func Split(params map[string]string) (unsigned map[string]string, signature string) {
	unsigned = make(map[string]string, len(params))
	for k, v := range params {
		if isSignatureField(k) {
			continue
		}
		unsigned[k] = v
	}
	return unsigned, params[SignatureField]
}

// FromValues flattens query values, keeping the first value of each name.
func FromValues(values url.Values) map[string]string {
	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}
