package app

import (
	"net/mail"
	"strings"

	"golang.org/x/net/idna"

	"otzaria/internal/util"
)

// syntheticEmailDomain is reserved (RFC 2606), so synthesized addresses can
// never reach a real mailbox.
const syntheticEmailDomain = "users.invalid"

// normalizeEmail lower-cases and trims raw and reports whether it is a usable
// address. Internationalized domains must convert to ASCII.
func normalizeEmail(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", false
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return "", false
	}
	if _, err := idna.Lookup.ToASCII(addr.Address[at+1:]); err != nil {
		return "", false
	}
	return addr.Address, true
}

// synthesizeEmail builds a placeholder address for a legacy user without a
// usable one. It depends only on the legacy id, or on the name when the id is
// missing too. Distinct ids always give distinct addresses.
func synthesizeEmail(legacyID, name string) string {
	key := strings.TrimSpace(legacyID)
	if key == "" {
		key = util.StableID("user-name", normalizeName(name))
	}
	return "legacy-" + escapeLocalPart(key) + "@" + syntheticEmailDomain
}

// escapeLocalPart keeps lower-case ASCII letters, digits and '-' and
// writes every other byte as '_' plus two lower-case hex digits. The output
// is already lower-case, so it survives email normalization unchanged.
func escapeLocalPart(key string) string {
	const hexDigits = "0123456789abcdef"
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}
