package piggyback

import (
	"fmt"
	"regexp"
	"strings"
)

// RegexRule 正则重写规则，Pattern 需完整匹配
type RegexRule struct {
	Pattern     string
	Replacement string
}

// TranslationRules piggyback 主机名翻译规则，按 大小写 → 去域名 → 正则 → 映射 的顺序生效
type TranslationRules struct {
	Case       string // "", "lower", "upper"
	DropDomain bool
	Regex      []RegexRule
	Mapping    map[string]string
}

type compiledRule struct {
	re          *regexp.Regexp
	replacement string
}

// Translator 已编译的翻译规则
type Translator struct {
	rules TranslationRules
	regex []compiledRule
}

// NewTranslator 编译翻译规则
func NewTranslator(rules TranslationRules) (*Translator, error) {
	t := &Translator{rules: rules}
	for _, r := range rules.Regex {
		re, err := regexp.Compile("^(?:" + r.Pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid piggyback translation regex %q: %w", r.Pattern, err)
		}
		t.regex = append(t.regex, compiledRule{re: re, replacement: r.Replacement})
	}
	return t, nil
}

// Translate 翻译主机名
func (t *Translator) Translate(name string) string {
	if t == nil {
		return name
	}
	switch t.rules.Case {
	case "lower":
		name = strings.ToLower(name)
	case "upper":
		name = strings.ToUpper(name)
	}
	if t.rules.DropDomain && !looksLikeIP(name) {
		if i := strings.IndexByte(name, '.'); i > 0 {
			name = name[:i]
		}
	}
	for _, r := range t.regex {
		if r.re.MatchString(name) {
			name = r.re.ReplaceAllString(name, r.replacement)
			break
		}
	}
	if mapped, ok := t.rules.Mapping[name]; ok {
		name = mapped
	}
	return name
}

func looksLikeIP(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if (c < '0' || c > '9') && c != '.' {
			return false
		}
	}
	return true
}
