package security

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Verdict 入站邮件检查结果
type Verdict struct {
	Reject bool   // 拒收
	Spam   bool   // 疑似垃圾邮件，只记录
	Reason string
}

// InboundFilter 检查 SMTP 直接收到的邮件：可执行附件、HTML 脚本注入和垃圾关键词
type InboundFilter struct {
	maliciousPatterns   []*regexp.Regexp
	spamKeywords        []string
	spamThreshold       int
	dangerousExtensions map[string]bool
}

// NewInboundFilter 创建入站过滤器
func NewInboundFilter() *InboundFilter {
	return &InboundFilter{
		maliciousPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
			regexp.MustCompile(`(?i)javascript:`),
			regexp.MustCompile(`(?i)\bon(load|error|click|mouseover)\s*=`),
			regexp.MustCompile(`(?i)document\.cookie`),
			regexp.MustCompile(`(?i)<(iframe|object|embed)[^>]*>`),
		},
		// 西语垃圾邮件常见词
		spamKeywords: []string{
			"viagra", "casino", "lotería", "loteria", "ganaste", "premio garantizado",
			"dinero gratis", "haga clic aquí", "haz clic aquí", "oferta por tiempo limitado",
			"sin riesgo", "gane dinero", "trabaje desde casa", "bitcoin",
		},
		spamThreshold: 3,
		dangerousExtensions: map[string]bool{
			".exe": true, ".bat": true, ".cmd": true, ".scr": true,
			".pif": true, ".com": true, ".vbs": true, ".js": true,
			".jar": true, ".msi": true, ".ps1": true, ".hta": true,
		},
	}
}

// CheckAttachment 附件名是否可接收
func (f *InboundFilter) CheckAttachment(filename string) (bool, string) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	if f.dangerousExtensions[ext] {
		return false, "dangerous attachment extension: " + ext
	}
	return true, ""
}

// Check 检查主题、正文和附件名
func (f *InboundFilter) Check(subject, text, html string, attachments []string) Verdict {
	for _, name := range attachments {
		if ok, reason := f.CheckAttachment(name); !ok {
			return Verdict{Reject: true, Reason: reason}
		}
	}

	for _, pattern := range f.maliciousPatterns {
		if pattern.MatchString(html) {
			return Verdict{Reject: true, Reason: "malicious html: " + pattern.String()}
		}
	}

	content := strings.ToLower(subject + "\n" + text + "\n" + html)
	hits := 0
	for _, keyword := range f.spamKeywords {
		if strings.Contains(content, keyword) {
			hits++
		}
	}
	if hits >= f.spamThreshold {
		return Verdict{Spam: true, Reason: "multiple spam keywords found"}
	}
	return Verdict{}
}
