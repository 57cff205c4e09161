package mailsender

import (
	"fmt"

	"account_service/internal/models"

	"gopkg.in/gomail.v2"
)

type Mailer struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Send delivers a verification code by SMTP. Subject and body wording depend
// on the code purpose.
func (m *Mailer) Send(msg models.Message) error {
	subject, body := compose(msg)

	mail := gomail.NewMessage()
	mail.SetHeader("To", msg.Email)
	mail.SetHeader("From", m.Username)
	mail.SetHeader("Subject", subject)

	mail.SetBody("text/plain", body)

	dialer := gomail.NewDialer(m.Host, m.Port, m.Username, m.Password)
	return dialer.DialAndSend(mail)
}

func compose(msg models.Message) (subject, body string) {
	switch msg.Purpose {
	case models.PurposeRestore:
		return "Восстановление пароля",
			fmt.Sprintf("Код для восстановления пароля: %s. Код действует 5 минут.", msg.Code)
	default:
		return "Подтверждение почты",
			fmt.Sprintf("Код для активации аккаунта: %s. Код действует 5 минут.", msg.Code)
	}
}
