package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"

	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
	"github.com/wneessen/go-mail"
)

var ErrNoRecipient = errors.New("notification has no recipient")

// Decode 解析队列中的消息体。
func Decode(body []byte) (domain.Notification, error) {
	var n domain.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return domain.Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	return n, nil
}

// BuildMessage 用模板渲染课表变更邮件。没有收件人时返回 ErrNoRecipient。
func BuildMessage(n domain.Notification, tmpl *template.Template, from string) (*mail.Msg, error) {
	if n.Recipient == "" || n.Data == nil {
		return nil, ErrNoRecipient
	}

	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("设置邮件发件人: %w", err)
	}
	if err := msg.To(n.Recipient); err != nil {
		return nil, fmt.Errorf("设置邮件收件人: %w", err)
	}
	if err := msg.SetBodyHTMLTemplate(tmpl, n.Data); err != nil {
		return nil, fmt.Errorf("设置邮件正文: %w", err)
	}
	msg.Subject(fmt.Sprintf("教学课表 - 课程%s通知", n.Data.Action))

	return msg, nil
}
