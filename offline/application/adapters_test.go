package application

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/AzielCF/az-offline/offline/domain/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareTarget_DefaultsMissingFields(t *testing.T) {
	s := NewShareTarget("/app")

	resp := s.Handle(mustRequest(t, "GET", "https://app.example.com/share-target?text=gm%20%F0%9F%9A%80"))
	assert.Equal(t, http.StatusSeeOther, resp.Status)
	assert.Equal(t, request.SourceRedirect, resp.Source)
	assert.Equal(t, "/app?text=gm+%F0%9F%9A%80&title=&url=", resp.Header.Get("Location"))

	empty := s.Handle(nil)
	assert.Equal(t, "/app?text=&title=&url=", empty.Header.Get("Location"))
}

func TestShareTarget_EntryPointWithQuery(t *testing.T) {
	s := NewShareTarget("/?source=share")
	resp := s.Handle(mustRequest(t, "POST", "https://app.example.com/share-target?title=t"))
	assert.Equal(t, "/?source=share&text=&title=t&url=", resp.Header.Get("Location"))
}

type recordingNotifier struct {
	got []Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func TestNotifications_FillsDefaults(t *testing.T) {
	rec := &recordingNotifier{}
	n := NewNotifications(rec, Notification{Title: "Trading App", Icon: "/icon-192.png"})

	note, err := n.Handle(context.Background(), []byte(`{"body":"SOL crossed $150","tag":"price"}`))
	require.NoError(t, err)
	assert.Equal(t, Notification{
		Title: "Trading App",
		Body:  "SOL crossed $150",
		Icon:  "/icon-192.png",
		URL:   "/",
		Tag:   "price",
	}, note)
	assert.Equal(t, []Notification{note}, rec.got)
}

func TestNotifications_MalformedPayloadIsTextOnly(t *testing.T) {
	rec := &recordingNotifier{}
	n := NewNotifications(rec, Notification{})

	note, err := n.Handle(context.Background(), []byte("  order filled  "))
	require.NoError(t, err)
	assert.Equal(t, "New notification", note.Title)
	assert.Equal(t, "order filled", note.Body)
	assert.Equal(t, "/", note.URL)
}

func TestNotifications_RejectsInvalidURL(t *testing.T) {
	rec := &recordingNotifier{}
	n := NewNotifications(rec, Notification{})

	_, err := n.Handle(context.Background(), []byte(`{"title":"x","url":"::not a url"}`))
	assert.Error(t, err)
	assert.Empty(t, rec.got)
}

func TestNotifications_PropagatesNotifierError(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("display unavailable")}
	_, err := NewNotifications(rec, Notification{}).Handle(context.Background(), []byte(`{}`))
	assert.EqualError(t, err, "display unavailable")
}
