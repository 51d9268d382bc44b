package model

import "time"

// MailAccount is a mailbox provisioned through the control panel. The
// password is kept encrypted so the panel can open webmail sessions for
// it without asking again.
type MailAccount struct {
	ID                string    `db:"id" json:"id"`
	Address           string    `db:"address" json:"emailAddress"`
	Domain            string    `db:"domain" json:"domain"`
	EncryptedPassword string    `db:"encrypted_password" json:"-"`
	Enabled           bool      `db:"enabled" json:"isActive"`
	Description       string    `db:"description" json:"description"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `db:"updated_at" json:"updatedAt"`
}

// HasStoredPassword reports whether auto-login is possible.
func (a *MailAccount) HasStoredPassword() bool {
	return a.EncryptedPassword != ""
}
