package localization

import (
	"strings"
	"time"

	"golang.org/x/text/language"
)

// DefaultSupportedLanguages are the base languages templates may be written in.
var DefaultSupportedLanguages = []string{"en", "es", "fr", "de", "pt", "it", "zh", "ja", "ar", "hi"}

type Config struct {
	DefaultLanguage    string        `mapstructure:"default_language"`
	SupportedLanguages []string      `mapstructure:"supported_languages"`
	FallbackChain      []string      `mapstructure:"fallback_chain"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
	CacheMaxEntries    int           `mapstructure:"cache_max_entries"`
}

func DefaultConfig() Config {
	return Config{
		DefaultLanguage:    "en",
		SupportedLanguages: DefaultSupportedLanguages,
		FallbackChain:      []string{"en"},
		CacheTTL:           24 * time.Hour,
		CacheMaxEntries:    1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = d.DefaultLanguage
	}
	if len(c.SupportedLanguages) == 0 {
		c.SupportedLanguages = d.SupportedLanguages
	}
	if len(c.FallbackChain) == 0 {
		c.FallbackChain = d.FallbackChain
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.CacheMaxEntries <= 0 {
		c.CacheMaxEntries = d.CacheMaxEntries
	}
	return c
}

// BaseLanguage reduces a tag such as "es-MX" or "pt_BR" to its lower-case
// base language. Tags x/text cannot parse fall back to their first subtag.
func BaseLanguage(lang string) string {
	lang = strings.TrimSpace(strings.ReplaceAll(lang, "_", "-"))
	if lang == "" {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return strings.ToLower(strings.SplitN(lang, "-", 2)[0])
	}
	base, _ := tag.Base()
	return strings.ToLower(base.String())
}
