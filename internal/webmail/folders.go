package webmail

import (
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/sirupsen/logrus"

	"github.com/nhle/mailpanel/internal/model"
)

// defaultDelimiter is used when the server reports no hierarchy delimiter.
const defaultDelimiter = "."

// specialAttrs maps RFC 6154 attributes to folder roles.
var specialAttrs = map[imap.MailboxAttr]model.SpecialUse{
	imap.MailboxAttrSent:    model.SpecialUseSent,
	imap.MailboxAttrDrafts:  model.SpecialUseDrafts,
	imap.MailboxAttrTrash:   model.SpecialUseTrash,
	imap.MailboxAttrJunk:    model.SpecialUseJunk,
	imap.MailboxAttrArchive: model.SpecialUseArchive,
	imap.MailboxAttrFlagged: model.SpecialUseFlagged,
}

// specialAliases are the conventional names clients use when the server
// does not advertise special-use attributes. Order is preference order.
var specialAliases = map[model.SpecialUse][]string{
	model.SpecialUseSent:    {"Sent", "Sent Messages", "Sent Items", "Sent Mail"},
	model.SpecialUseDrafts:  {"Drafts", "Draft"},
	model.SpecialUseTrash:   {"Trash", "Deleted", "Deleted Items", "Deleted Messages"},
	model.SpecialUseJunk:    {"Junk", "Spam", "Junk E-mail", "Junk Mail"},
	model.SpecialUseArchive: {"Archive", "Archives"},
}

// resolvedFolder is the outcome of special-folder resolution. Fabricated
// is set when no existing mailbox matched and the path was guessed.
type resolvedFolder struct {
	Path       model.FolderPath
	Fabricated bool
}

// resolveSpecial picks the mailbox for kind from a LIST result: a
// special-use attribute first, then a top-level alias, then an alias
// directly under INBOX, and finally a guessed INBOX child.
func resolveSpecial(boxes []MailboxInfo, kind model.SpecialUse) resolvedFolder {
	for _, b := range boxes {
		for _, attr := range b.Attrs {
			if specialAttrs[attr] == kind {
				return resolvedFolder{Path: model.FolderPath(b.Path)}
			}
		}
	}

	aliases := specialAliases[kind]
	for _, alias := range aliases {
		for _, b := range boxes {
			if isSelectable(b) && strings.EqualFold(b.Path, alias) {
				return resolvedFolder{Path: model.FolderPath(b.Path)}
			}
		}
	}

	for _, alias := range aliases {
		for _, b := range boxes {
			parent, leaf, ok := splitParent(b)
			if ok && isSelectable(b) && strings.EqualFold(parent, string(model.InboxPath)) && strings.EqualFold(leaf, alias) {
				return resolvedFolder{Path: model.FolderPath(b.Path)}
			}
		}
	}

	return resolvedFolder{
		Path:       model.FolderPath(string(model.InboxPath) + hierarchyDelimiter(boxes) + string(kind)),
		Fabricated: true,
	}
}

// hierarchyDelimiter returns the first delimiter the server advertised.
func hierarchyDelimiter(boxes []MailboxInfo) string {
	for _, b := range boxes {
		if b.Delimiter != "" {
			return b.Delimiter
		}
	}
	return defaultDelimiter
}

func splitParent(b MailboxInfo) (parent, leaf string, ok bool) {
	if b.Delimiter == "" {
		return "", b.Path, false
	}
	i := strings.LastIndex(b.Path, b.Delimiter)
	if i < 0 {
		return "", b.Path, false
	}
	return b.Path[:i], b.Path[i+len(b.Delimiter):], true
}

func isSelectable(b MailboxInfo) bool {
	for _, attr := range b.Attrs {
		if attr == imap.MailboxAttrNoSelect || attr == imap.MailboxAttrNonExistent {
			return false
		}
	}
	return true
}

// classifyFolders tags each existing mailbox with the role the resolver
// would give it.
func classifyFolders(boxes []MailboxInfo) map[model.FolderPath]model.SpecialUse {
	roles := make(map[model.FolderPath]model.SpecialUse)
	for _, kind := range []model.SpecialUse{
		model.SpecialUseSent, model.SpecialUseDrafts, model.SpecialUseTrash,
		model.SpecialUseJunk, model.SpecialUseArchive, model.SpecialUseFlagged,
	} {
		res := resolveSpecial(boxes, kind)
		if res.Fabricated {
			continue
		}
		if _, taken := roles[res.Path]; !taken {
			roles[res.Path] = kind
		}
	}
	return roles
}

// listFolders lists every mailbox with its counts, probing STATUS on the
// same session. A failed probe yields zero counts instead of an error.
func listFolders(sess MailSession, log *logrus.Entry) ([]model.Folder, error) {
	boxes, err := sess.List()
	if err != nil {
		return nil, err
	}

	roles := classifyFolders(boxes)
	folders := make([]model.Folder, 0, len(boxes))
	for _, b := range boxes {
		_, leaf, _ := splitParent(b)
		f := model.Folder{
			Name:       leaf,
			Path:       model.FolderPath(b.Path),
			Delimiter:  b.Delimiter,
			Attributes: make([]string, 0, len(b.Attrs)),
			SpecialUse: roles[model.FolderPath(b.Path)],
		}
		for _, attr := range b.Attrs {
			f.Attributes = append(f.Attributes, string(attr))
		}

		if isSelectable(b) {
			counts, err := sess.Status(b.Path)
			if err != nil {
				log.WithError(err).WithField("folder", b.Path).Warn("Folder status probe failed")
			} else {
				f.Messages = counts
			}
		}

		folders = append(folders, f)
	}
	return folders, nil
}

// folderPathForCreate places a new top-level folder name where the server
// expects it. Servers that keep every folder under INBOX get the INBOX
// prefix unless the name already has it.
func folderPathForCreate(boxes []MailboxInfo, name string) (model.FolderPath, error) {
	name = strings.TrimSpace(name)
	if _, err := model.ParseFolderPath(name); err != nil {
		return "", err
	}

	delim := hierarchyDelimiter(boxes)
	prefix := string(model.InboxPath) + delim
	if strings.EqualFold(name, string(model.InboxPath)) {
		return "", fmt.Errorf("%w: %q already exists", model.ErrInvalidFolderPath, name)
	}
	if strings.HasPrefix(strings.ToUpper(name), strings.ToUpper(prefix)) || !inboxNamespaced(boxes, prefix) {
		return model.FolderPath(name), nil
	}
	return model.FolderPath(prefix + name), nil
}

// inboxNamespaced reports whether every mailbox other than INBOX lives
// under it. A mailbox holding only INBOX counts as namespaced.
func inboxNamespaced(boxes []MailboxInfo, prefix string) bool {
	for _, b := range boxes {
		if strings.EqualFold(b.Path, string(model.InboxPath)) {
			continue
		}
		if !strings.HasPrefix(strings.ToUpper(b.Path), strings.ToUpper(prefix)) {
			return false
		}
	}
	return true
}
