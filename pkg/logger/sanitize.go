package logger

import (
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "a****@*******.com")
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	username := parts[0]
	domain := parts[1]

	if len(username) > 1 {
		username = string(username[0]) + strings.Repeat("*", len(username)-1)
	}

	// Mask all but the TLD
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

// SanitizedPhone keeps the country prefix and last two digits
// (e.g., "+1*******67")
func SanitizedPhone(phone string) string {
	if len(phone) < 5 {
		return "[invalid-phone]"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}

// SanitizedContact masks an email or phone number, whichever it looks like
func SanitizedContact(contact string) string {
	if strings.Contains(contact, "@") {
		return SanitizedEmail(contact)
	}
	return SanitizedPhone(contact)
}

var sensitiveParams = []string{
	"token", "secret", "code", "email", "phone", "contact", "auth",
}

// SanitizeQueryString reports whether the query string carries sensitive
// parameters and must be redacted as a whole
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
