package parser

import (
	"strconv"
	"strings"
	"time"
)

// Parser agent 输出解析器，无状态，可重复使用
type Parser struct {
	fallback  string
	translate func(string) string
	now       func() time.Time
}

// Option Parser 可选项
type Option func(*Parser)

// WithFallbackEncoding 设置回退编码
func WithFallbackEncoding(name string) Option {
	return func(p *Parser) {
		if name != "" {
			p.fallback = name
		}
	}
}

// WithTranslation 设置 piggyback 主机名翻译
func WithTranslation(fn func(string) string) Option {
	return func(p *Parser) { p.translate = fn }
}

// WithClock 注入时钟，persist(...) 以当前时间作为 cached_at
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// New 创建解析器
func New(opts ...Option) *Parser {
	p := &Parser{fallback: DefaultEncoding, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// header 当前 section 头部选项
type header struct {
	name      string
	separator rune
	encoding  string
	noStrip   bool
	persist   int64
	cached    *CacheInfo
}

// Parse 解析 owner 主机的 agent 原始输出
func (p *Parser) Parse(raw []byte, owner string) Result {
	res := newResult()
	now := p.now().Unix()

	var (
		target  string
		discard bool
		current *header
	)

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		stripped := strings.TrimSpace(line)

		if isPiggybackHeader(stripped) {
			target, discard = p.piggybackTarget(stripped[4:len(stripped)-4], owner)
			continue
		}
		if discard {
			continue
		}
		if target != "" {
			res.Piggybacked[target] = append(res.Piggybacked[target], line)
			continue
		}
		if isSectionHeader(stripped) {
			current = parseHeader(stripped[3 : len(stripped)-3])
			if current == nil {
				continue
			}
			sec, ok := res.Sections[current.name]
			if !ok {
				sec = &Section{Name: current.name, Rows: [][]string{}}
				res.Sections[current.name] = sec
			}
			sec.Separator = current.separator
			sec.Encoding = current.encoding
			sec.NoStrip = current.noStrip

			if current.persist > 0 {
				sec.Window = &Window{CachedAt: now, Until: current.persist}
				res.CacheInfo[current.name] = CacheInfo{CachedAt: now, Interval: current.persist - now}
			}
			// cached(...) 覆盖 persist 推导出的缓存信息
			if current.cached != nil {
				res.CacheInfo[current.name] = *current.cached
			}
			continue
		}
		if stripped == "" || current == nil {
			continue
		}

		text := decodeLine(line, current.encoding, p.fallback)
		if !current.noStrip {
			text = strings.TrimSpace(text)
		}
		sec := res.Sections[current.name]
		sec.Rows = append(sec.Rows, splitRow(text, current.separator))
	}

	for name, sec := range res.Sections {
		if sec.Window != nil {
			res.Persist[name] = Persisted{CachedAt: sec.Window.CachedAt, Until: sec.Window.Until, Rows: sec.Rows}
		}
	}
	return res
}

// piggybackTarget 返回转发目标；空串表示回到 owner 自身的数据。
// 无法得到合法主机名的块被整体丢弃（discard 为 true）。
func (p *Parser) piggybackTarget(name, owner string) (target string, discard bool) {
	if name == "" {
		return "", false
	}
	name = strings.ReplaceAll(name, " ", "_")
	if p.translate != nil {
		name = p.translate(name)
	}
	name = sanitizeHostName(name)
	if name == "" {
		return "", true
	}
	if name == owner {
		return "", false
	}
	return name, false
}

// sanitizeHostName 把主机名之外的字符替换为 _；只剩点号的名称视为非法，返回空串
func sanitizeHostName(name string) string {
	out := []byte(name)
	for i := 0; i < len(out); i++ {
		c := out[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.':
		default:
			out[i] = '_'
		}
	}
	if strings.Trim(string(out), ".") == "" {
		return ""
	}
	return string(out)
}

func isPiggybackHeader(s string) bool {
	return len(s) >= 8 && strings.HasPrefix(s, "<<<<") && strings.HasSuffix(s, ">>>>")
}

func isSectionHeader(s string) bool {
	return len(s) >= 6 && strings.HasPrefix(s, "<<<") && strings.HasSuffix(s, ">>>")
}

// parseHeader 解析 name:opt1(args):opt2，名称为空时返回 nil
func parseHeader(s string) *header {
	parts := strings.Split(s, ":")
	h := &header{name: strings.TrimSpace(parts[0])}
	if h.name == "" {
		return nil
	}
	for _, opt := range parts[1:] {
		key, args := splitOption(opt)
		switch key {
		case "sep":
			if code, err := strconv.Atoi(args); err == nil && code > 0 && code < 128 {
				h.separator = rune(code)
			}
		case "persist":
			if until, err := strconv.ParseInt(args, 10, 64); err == nil {
				h.persist = until
			}
		case "cached":
			fields := strings.Split(args, ",")
			if len(fields) != 2 {
				continue
			}
			at, err1 := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
			interval, err2 := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
			if err1 == nil && err2 == nil {
				h.cached = &CacheInfo{CachedAt: at, Interval: interval}
			}
		case "encoding":
			h.encoding = args
		case "nostrip":
			h.noStrip = true
		}
	}
	return h
}

func splitOption(opt string) (key, args string) {
	open := strings.IndexByte(opt, '(')
	if open < 0 || !strings.HasSuffix(opt, ")") {
		return strings.TrimSpace(opt), ""
	}
	return strings.TrimSpace(opt[:open]), opt[open+1 : len(opt)-1]
}

func splitRow(line string, sep rune) []string {
	if sep == 0 {
		return strings.Fields(line)
	}
	return strings.Split(line, string(sep))
}
