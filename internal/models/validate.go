package models

import (
	"net/mail"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

const (
	MinimumPrice = 3
	MaximumPrice = 9999
)

var (
	handleRE  = regexp.MustCompile(`^[a-z0-9]{3,16}$`)
	projectRE = regexp.MustCompile(`^[a-z0-9]{3,16}$`)
	// ISO 3166-1 alpha-2, optionally with a subdivision: "US", "US-CA".
	locationRE = regexp.MustCompile(`^[A-Z]{2}(-[A-Z0-9]{1,3})?$`)
)

var Categories = []string{
	"application",
	"plugin",
	"library",
	"framework",
	"service",
	"development tool",
	"operating system",
	"interpreter",
}

func ValidHandle(handle string) bool { return handleRE.MatchString(handle) }

func ValidProjectName(name string) bool { return projectRE.MatchString(name) }

func ValidCategory(category string) bool { return slices.Contains(Categories, category) }

func ValidPrice(price int64) bool { return price >= MinimumPrice && price <= MaximumPrice }

func ValidLocation(code string) bool { return locationRE.MatchString(code) }

// ValidEmail accepts a bare address only, no display name. Addresses key
// the e-mail index on disk, so path separators are refused even where
// RFC 5322 allows them.
func ValidEmail(email string) bool {
	if strings.ContainsAny(email, "/\\\x00") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email, ".")
}

// NormalizeEmail is the e-mail index key for an address.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

const (
	MinimumPasswordLength = 8
	MaximumPasswordLength = 64
)

func ValidPassword(password string) bool {
	n := len([]rune(password))
	return n >= MinimumPasswordLength && n <= MaximumPasswordLength
}

// ValidURL accepts absolute http and https URLs shorter than 128 bytes.
func ValidURL(raw string) bool {
	if len(raw) >= 128 {
		return false
	}
	u, err := url.ParseRequestURI(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
