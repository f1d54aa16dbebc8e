package application

import (
	"context"
	"encoding/json"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/sirupsen/logrus"
)

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Notifier displays a notification. Display is outside the offline core.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	logrus.WithFields(logrus.Fields{
		"title": n.Title,
		"tag":   n.Tag,
		"url":   n.URL,
	}).Infof("[PUSH] %s", n.Body)
	return nil
}

// Notifications decodes push payloads and fills in what the sender left out.
type Notifications struct {
	notifier Notifier
	defaults Notification
}

func NewNotifications(notifier Notifier, defaults Notification) *Notifications {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if defaults.Title == "" {
		defaults.Title = "New notification"
	}
	if defaults.URL == "" {
		defaults.URL = "/"
	}
	return &Notifications{notifier: notifier, defaults: defaults}
}

// Decode never fails: a payload that is not JSON becomes a text-only notification.
func (n *Notifications) Decode(raw []byte) Notification {
	var in Notification
	if err := json.Unmarshal(raw, &in); err != nil {
		in = Notification{Body: strings.TrimSpace(string(raw))}
	}
	if in.Title == "" {
		in.Title = n.defaults.Title
	}
	if in.Body == "" {
		in.Body = n.defaults.Body
	}
	if in.Icon == "" {
		in.Icon = n.defaults.Icon
	}
	if in.URL == "" {
		in.URL = n.defaults.URL
	}
	if in.Tag == "" {
		in.Tag = n.defaults.Tag
	}
	return in
}

func (n *Notifications) Handle(ctx context.Context, raw []byte) (Notification, error) {
	note := n.Decode(raw)
	err := validation.ValidateStruct(&note,
		validation.Field(&note.Title, validation.Required, validation.Length(1, 256)),
		validation.Field(&note.Icon, is.RequestURI),
		validation.Field(&note.URL, is.RequestURI),
	)
	if err != nil {
		return note, err
	}
	return note, n.notifier.Notify(ctx, note)
}
