package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRegex   = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	e164Regex    = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)
	openIDRegex  = regexp.MustCompile(`^ou_[a-zA-Z0-9]+$`)
	controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	phoneNoise   = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

// ValidateEmail validates an email address
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

// IsEmailAddress reports whether s looks like an e-mail address
func IsEmailAddress(s string) bool {
	return emailRegex.MatchString(s)
}

// IsOpenID reports whether s is a Lark open_id
func IsOpenID(s string) bool {
	return openIDRegex.MatchString(s)
}

// NormalizeContact turns a roster contact cell into a dialable address.
// E-mail addresses and open_ids are returned trimmed. Phone numbers lose
// formatting characters; a leading "00" becomes "+", and bare national
// numbers of ten digits get defaultCountryCode prepended.
func NormalizeContact(raw, defaultCountryCode string) string {
	s := strings.TrimSpace(raw)
	if s == "" || strings.Contains(s, "@") || strings.HasPrefix(s, "ou_") {
		return s
	}

	// spreadsheets hand back numeric cells such as 9876543210.0
	s = strings.TrimSuffix(s, ".0")
	s = phoneNoise.Replace(s)

	switch {
	case strings.HasPrefix(s, "+"):
		return s
	case strings.HasPrefix(s, "00"):
		return "+" + s[2:]
	case len(s) == 10 && isDigits(s) && defaultCountryCode != "":
		return ensurePlus(defaultCountryCode) + s
	case isDigits(s) && len(s) > 10:
		return "+" + s
	}
	return s
}

// ValidateContact checks that an address is an e-mail, an open_id or an E.164 phone number
func ValidateContact(address string) error {
	switch {
	case address == "":
		return fmt.Errorf("empty recipient address")
	case IsEmailAddress(address), IsOpenID(address), e164Regex.MatchString(address):
		return nil
	}
	return fmt.Errorf("unrecognised recipient address: %q", address)
}

// ValidateUSN checks that a student identifier can be used as a storage key
func ValidateUSN(usn string) error {
	if strings.TrimSpace(usn) == "" {
		return fmt.Errorf("USN is empty")
	}
	if strings.ContainsAny(usn, `/\`) || strings.Contains(usn, "..") {
		return fmt.Errorf("USN contains path characters: %q", usn)
	}
	if controlChars.MatchString(usn) {
		return fmt.Errorf("USN contains control characters: %q", usn)
	}
	return nil
}

// SanitizeString removes control characters
func SanitizeString(s string) string {
	return controlChars.ReplaceAllString(s, "")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func ensurePlus(code string) string {
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "+") {
		return code
	}
	return "+" + code
}
