package app

import "github.com/nhle/mailpanel/internal/model"

// messageSummary adds the read/starred projections clients render from.
type messageSummary struct {
	model.MessageSummary
	IsRead    bool `json:"isRead"`
	IsStarred bool `json:"isStarred"`
}

func newMessageSummary(m model.MessageSummary) messageSummary {
	return messageSummary{
		MessageSummary: m,
		IsRead:         m.IsRead(),
		IsStarred:      m.IsStarred(),
	}
}

type messageDetail struct {
	*model.MessageDetail
	IsRead    bool `json:"isRead"`
	IsStarred bool `json:"isStarred"`
}

func newMessageDetail(d *model.MessageDetail) messageDetail {
	if d.Attachments == nil {
		d.Attachments = []model.Attachment{}
	}
	return messageDetail{
		MessageDetail: d,
		IsRead:        d.IsRead(),
		IsStarred:     d.IsStarred(),
	}
}

// account is a registered mailbox as shown to admins.
type account struct {
	model.MailAccount
	HasPassword bool `json:"hasPassword"`
}

func newAccount(a model.MailAccount) account {
	return account{MailAccount: a, HasPassword: a.HasStoredPassword()}
}
