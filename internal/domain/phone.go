package domain

import "strings"

// CanonicalPhone reduces a phone number to digits with a single leading
// plus. Inputs like "1234567890", "+1 234 567 890" and "1-234-567-890" all
// canonicalize to "+1234567890". Empty input stays empty.
func CanonicalPhone(phone string) string {
	if phone == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(phone) + 1)
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// StripJIDSuffix removes the WhatsApp-internal @c.us / @g.us /
// @s.whatsapp.net suffix from an identifier.
func StripJIDSuffix(id string) string {
	if idx := strings.IndexByte(id, '@'); idx >= 0 {
		return id[:idx]
	}
	return id
}

// ContactWaId returns the wire identifier for a canonical phone number.
func ContactWaId(phone string) string {
	return strings.TrimPrefix(phone, "+") + "@c.us"
}

// GroupWaId returns the wire identifier for a group id.
func GroupWaId(groupId string) string {
	return groupId + "@g.us"
}
