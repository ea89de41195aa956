package model

import (
	"net/url"
	"strings"
	"time"
)

// Message is an inbound chat message as the ledger sees it.
type Message struct {
	Timestamp   time.Time
	ID          Marker
	ChannelID   string
	Content     string
	Author      Author
	Attachments []Attachment
}

// HasImages reports whether any attachment looks like an image.
func (m Message) HasImages() bool {
	for _, a := range m.Attachments {
		if a.IsImage() {
			return true
		}
	}
	return false
}

// Author identifies who sent a message.
type Author struct {
	ID          string
	Username    string
	DisplayName string
	Bot         bool
}

// Name returns the best human-readable name for the author.
func (a Author) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.Username != "" {
		return a.Username
	}
	return a.ID
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID          string
	URL         string
	Filename    string
	ContentType string
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic"}

// IsImage reports whether the attachment is an image, by content type or by
// file extension when the transport omits the type.
func (a Attachment) IsImage() bool {
	if a.ContentType != "" {
		return strings.HasPrefix(strings.ToLower(a.ContentType), "image/")
	}
	name := strings.ToLower(a.Filename)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Ref is the stable identity of the attachment within its message. Attachment
// URLs carry expiring signatures, so the transport id is preferred and the URL
// is used without its query string otherwise.
func (a Attachment) Ref() string {
	if a.ID != "" {
		return a.ID
	}
	u, err := url.Parse(a.URL)
	if err != nil {
		return a.URL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
