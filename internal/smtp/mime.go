package smtp

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset" // 注册常见字符集解码
	"github.com/emersion/go-message/mail"
)

// ParsedEmail 表示解析后的邮件内容。
type ParsedEmail struct {
	Subject     string
	From        string
	FromName    string
	To          []string
	MessageID   string
	Date        time.Time
	Text        string
	HTML        string
	Attachments []string // 附件文件名，内容不保存
}

// ParseEmail 解析邮件，提取主题、正文和附件名。
func ParseEmail(raw []byte) (*ParsedEmail, error) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse mail: %w", err)
	}
	defer reader.Close()

	parsed := &ParsedEmail{}
	if subject, err := reader.Header.Subject(); err == nil {
		parsed.Subject = subject
	}
	if from, err := reader.Header.AddressList("From"); err == nil && len(from) > 0 {
		parsed.From = strings.ToLower(from[0].Address)
		parsed.FromName = from[0].Name
	}
	if to, err := reader.Header.AddressList("To"); err == nil {
		for _, addr := range to {
			parsed.To = append(parsed.To, strings.ToLower(addr.Address))
		}
	}
	if id, err := reader.Header.MessageID(); err == nil {
		parsed.MessageID = id
	}
	if date, err := reader.Header.Date(); err == nil {
		parsed.Date = date
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return parsed, fmt.Errorf("read part: %w", err)
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(mediaType, "text/html"):
				parsed.HTML = appendPart(parsed.HTML, string(body))
			case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
				parsed.Text = appendPart(parsed.Text, string(body))
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			if strings.TrimSpace(filename) == "" {
				filename = "attachment"
			}
			parsed.Attachments = append(parsed.Attachments, filename)
		}
	}

	return parsed, nil
}

func appendPart(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "\n" + next
}
