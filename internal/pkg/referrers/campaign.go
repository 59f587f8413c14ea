package referrers

import "net/url"

// Campaign holds the utm_* parameters of a referrer URL. Absent parameters stay empty.
type Campaign struct {
	Source   string `json:"utmSource,omitempty"`
	Medium   string `json:"utmMedium,omitempty"`
	Campaign string `json:"utmCampaign,omitempty"`
	Term     string `json:"utmTerm,omitempty"`
	Content  string `json:"utmContent,omitempty"`
}

// IsZero reports whether no campaign parameter was present.
func (c Campaign) IsZero() bool {
	return c == Campaign{}
}

// ParseCampaign extracts utm_* parameters from an absolute URL.
// Anything that is not an absolute URL yields an empty Campaign.
func ParseCampaign(raw string) Campaign {
	if raw == "" {
		return Campaign{}
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return Campaign{}
	}

	q := u.Query()
	return Campaign{
		Source:   q.Get("utm_source"),
		Medium:   q.Get("utm_medium"),
		Campaign: q.Get("utm_campaign"),
		Term:     q.Get("utm_term"),
		Content:  q.Get("utm_content"),
	}
}
