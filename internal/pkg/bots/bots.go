// Package bots flags automated clients by their User-Agent string.
package bots

import "strings"

// signatures are checked in order against the lowercased User-Agent.
var signatures = []string{
	"bot",
	"crawler",
	"spider",
	"scraper",
	"facebookexternalhit",
	"twitterbot",
	"linkedinbot",
	"whatsapp",
	"telegrambot",
	"googlebot",
	"bingbot",
	"yandexbot",
	"baiduspider",
}

// IsBot reports whether ua contains any known bot signature.
func IsBot(ua string) bool {
	_, ok := Match(ua)
	return ok
}

// Match returns the first signature found in ua.
func Match(ua string) (string, bool) {
	if ua == "" {
		return "", false
	}
	lower := strings.ToLower(ua)
	for _, sig := range signatures {
		if strings.Contains(lower, sig) {
			return sig, true
		}
	}
	return "", false
}
