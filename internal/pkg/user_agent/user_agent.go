package user_agent

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Unknown is reported for a browser or OS no rule recognises.
const Unknown = "Unknown"

// Device classes
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

type UserAgent struct {
	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
	Device         string
}

//go:embed rules.yml
var rulesFile []byte

// VersionToken maps a fixed substring to a version label.
type VersionToken struct {
	Match   string `yaml:"match"`
	Version string `yaml:"version"`
}

// Rule is one ordered (predicate, result) entry of rules.yml.
type Rule struct {
	Name      string         `yaml:"name"`
	Contains  []string       `yaml:"contains"`
	Any       []string       `yaml:"any"`
	Excludes  []string       `yaml:"excludes"`
	Version   string         `yaml:"version"`
	Separator string         `yaml:"separator"`
	Tokens    []VersionToken `yaml:"tokens"`
}

// RuleSet groups the rule lists evaluated by Parse.
type RuleSet struct {
	Browsers []Rule `yaml:"browsers"`
	OSs      []Rule `yaml:"oss"`
	Devices  []Rule `yaml:"devices"`
}

func (r Rule) matches(ua string) bool {
	for _, tok := range r.Contains {
		if !strings.Contains(ua, tok) {
			return false
		}
	}
	for _, tok := range r.Excludes {
		if strings.Contains(ua, tok) {
			return false
		}
	}
	if len(r.Any) == 0 {
		return true
	}
	for _, tok := range r.Any {
		if strings.Contains(ua, tok) {
			return true
		}
	}
	return false
}

// Compiled regex cache
type RegexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *RegexCache {
	return &RegexCache{
		compiled: make(map[string]*pcre.Regexp),
	}
}

func (rc *RegexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	// Double-check pattern
	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

// Parser evaluates a RuleSet against User-Agent strings. It is safe for concurrent use.
type Parser struct {
	rules      RuleSet
	regexCache *RegexCache
}

// NewParser decodes YAML rules and compiles every version pattern up front.
func NewParser(data []byte) (*Parser, error) {
	var rules RuleSet
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("error decoding user agent rules: %w", err)
	}

	p := &Parser{rules: rules, regexCache: newRegexCache()}
	for _, list := range [][]Rule{rules.Browsers, rules.OSs} {
		for _, r := range list {
			if r.Version == "" {
				continue
			}
			if _, err := p.regexCache.get(r.Version); err != nil {
				return nil, fmt.Errorf("invalid version pattern for %s: %w", r.Name, err)
			}
		}
	}
	return p, nil
}

// Global parser instance
var (
	parser *Parser
	once   sync.Once
)

func getParser() *Parser {
	once.Do(func() {
		p, err := NewParser(rulesFile)
		if err != nil {
			panic(fmt.Sprintf("user_agent: embedded rules are invalid: %v", err))
		}
		parser = p
	})
	return parser
}

// Parse classifies ua with the embedded rules.
func Parse(ua string) UserAgent {
	return getParser().Parse(ua)
}

// Parse classifies ua. Unrecognised values fall back to Unknown and desktop.
func (p *Parser) Parse(ua string) UserAgent {
	result := UserAgent{
		Browser: Unknown,
		OS:      Unknown,
		Device:  DeviceDesktop,
	}

	if r, ok := firstMatch(p.rules.Browsers, ua); ok {
		result.Browser = r.Name
		result.BrowserVersion = p.version(r, ua)
	}
	if r, ok := firstMatch(p.rules.OSs, ua); ok {
		result.OS = r.Name
		result.OSVersion = p.version(r, ua)
	}
	if r, ok := firstMatch(p.rules.Devices, ua); ok {
		result.Device = r.Name
	}

	return result
}

func firstMatch(rules []Rule, ua string) (Rule, bool) {
	for _, r := range rules {
		if r.matches(ua) {
			return r, true
		}
	}
	return Rule{}, false
}

func (p *Parser) version(r Rule, ua string) string {
	for _, tok := range r.Tokens {
		if strings.Contains(ua, tok.Match) {
			return tok.Version
		}
	}
	if r.Version == "" {
		return ""
	}

	regex, err := p.regexCache.get(r.Version)
	if err != nil {
		return ""
	}
	m := regex.FindStringSubmatch(ua)
	if len(m) < 2 {
		return ""
	}
	if r.Separator != "" {
		return strings.Replace(m[1], r.Separator, ".", 1)
	}
	return m[1]
}
