package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/storage"
)

type fakeDelivery struct {
	subject   string
	data      []byte
	headers   nats.Header
	delivered uint64

	acked   bool
	termed  bool
	nakedIn time.Duration
	naked   bool
}

func (d *fakeDelivery) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: d.delivered}, nil
}
func (d *fakeDelivery) Data() []byte         { return d.data }
func (d *fakeDelivery) Headers() nats.Header { return d.headers }
func (d *fakeDelivery) Subject() string      { return d.subject }
func (d *fakeDelivery) Ack() error           { d.acked = true; return nil }
func (d *fakeDelivery) Term() error          { d.termed = true; return nil }
func (d *fakeDelivery) NakWithDelay(delay time.Duration) error {
	d.naked = true
	d.nakedIn = delay
	return nil
}

func newDelivery(t *testing.T, subject string, ev models.ResourceEvent, replyTo string) *fakeDelivery {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	h := nats.Header{}
	if replyTo != "" {
		h.Set(ReplyHeader, replyTo)
	}
	return &fakeDelivery{subject: subject, data: data, headers: h, delivered: 1}
}

func newSubscriber(f *fixture) *NATSSubscriber {
	return NewNATSSubscriber(nil, f.handler, f.pub, SubscriberConfig{
		Stream:     "DOCUMENTS",
		Durable:    "maintenance",
		MaxDeliver: 3,
		RetryDelay: time.Second,
	})
}

func (p *fakePublisher) on(subject string) []published {
	var out []published
	for _, m := range p.all() {
		if m.subject == subject {
			out = append(out, m)
		}
	}
	return out
}

func TestSubscriberAcksCreationAndReplies(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.put(t, models.ProfileCollection, "tenant", models.Variables{"plan": "free"})
	f.put(t, models.ShowCollection, "s1", models.Variables{"ownerId": "tenant"})
	msg := newDelivery(t, "documents.shows.created",
		models.ResourceEvent{EventID: "e1", DocumentID: "s1", Data: models.Variables{"ownerId": "tenant"}}, "_INBOX.w1")

	newSubscriber(f).handle(msg)

	assert.True(t, msg.acked)
	assert.False(t, msg.naked)
	replies := f.pub.on("_INBOX.w1")
	require.Len(t, replies, 1)
	var reply Reply
	require.NoError(t, json.Unmarshal(replies[0].data, &reply))
	assert.True(t, reply.OK)
	assert.EqualValues(t, 1, f.count(t, "tenant", models.KindShow))
}

func TestSubscriberTerminatesMalformedEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sub := newSubscriber(f)

	for _, msg := range []*fakeDelivery{
		{subject: "documents.shows.created", data: []byte("{"), headers: nats.Header{ReplyHeader: []string{"r"}}, delivered: 1},
		{subject: "other.created", data: []byte(`{"documentId":"x"}`), headers: nats.Header{ReplyHeader: []string{"r"}}, delivered: 1},
		{subject: "documents.shows.created", data: []byte(`{}`), headers: nats.Header{ReplyHeader: []string{"r"}}, delivered: 1},
		{subject: "documents.shows.deleted", data: []byte("{"), headers: nats.Header{}, delivered: 1},
	} {
		sub.handle(msg)
		assert.True(t, msg.termed, msg.subject)
		assert.False(t, msg.acked, msg.subject)
	}

	replies := f.pub.on("r")
	require.Len(t, replies, 3)
	for _, r := range replies {
		var reply Reply
		require.NoError(t, json.Unmarshal(r.data, &reply))
		assert.False(t, reply.OK)
		assert.Equal(t, "validation", reply.Code)
	}
}

func TestSubscriberRedeliversOnBackendFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.put(t, models.ProfileCollection, "tenant", models.Variables{"plan": "free"})
	f.put(t, models.ShowCollection, "s1", models.Variables{"ownerId": "tenant"})
	ev := models.ResourceEvent{EventID: "e1", DocumentID: "s1", Data: models.Variables{"ownerId": "tenant"}}
	sub := newSubscriber(f)

	f.store.FailOn(storage.OpList, models.ShowCollection, errors.New("backend down"))
	first := newDelivery(t, "documents.shows.created", ev, "_INBOX.w1")
	first.delivered = 2
	sub.handle(first)
	assert.True(t, first.naked)
	assert.Equal(t, 2*time.Second, first.nakedIn)
	assert.False(t, first.acked)
	assert.Empty(t, f.pub.on("_INBOX.w1"), "no reply before a final outcome")

	f.store.FailOn(storage.OpList, models.ShowCollection, nil)
	again := newDelivery(t, "documents.shows.created", ev, "_INBOX.w1")
	again.delivered = 3
	sub.handle(again)
	assert.True(t, again.acked)
	assert.Len(t, f.pub.on("_INBOX.w1"), 1)
	assert.EqualValues(t, 1, f.count(t, "tenant", models.KindShow))
}

func TestSubscriberGivesUpAfterFinalDelivery(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.put(t, models.ProfileCollection, "tenant", models.Variables{"plan": "free"})
	f.put(t, models.ShowCollection, "s1", models.Variables{"ownerId": "tenant"})
	f.store.FailOn(storage.OpList, models.ShowCollection, errors.New("backend down"))

	msg := newDelivery(t, "documents.shows.created",
		models.ResourceEvent{EventID: "e1", DocumentID: "s1", Data: models.Variables{"ownerId": "tenant"}}, "_INBOX.w1")
	msg.delivered = 3
	newSubscriber(f).handle(msg)

	assert.True(t, msg.termed)
	assert.False(t, msg.naked)
	replies := f.pub.on("_INBOX.w1")
	require.Len(t, replies, 1)
	var reply Reply
	require.NoError(t, json.Unmarshal(replies[0].data, &reply))
	assert.Equal(t, "transient", reply.Code)
}

func TestSubscriberRedeliversFailedDeletion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.put(t, models.ProfileCollection, "tenant", models.Variables{"plan": "free"})
	created := f.put(t, models.ShowCollection, "s1", models.Variables{"ownerId": "tenant"})
	_, err := f.handler.Created(context.Background(), created)
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteDocument(context.Background(), models.ShowCollection, "s1"))
	sub := newSubscriber(f)
	ev := models.ResourceEvent{EventID: "d1", DocumentID: "s1", Data: models.Variables{"ownerId": "tenant"}}

	f.store.FailOn(storage.OpCharge, models.ShowCollection, errors.New("counter backend down"))
	msg := newDelivery(t, "documents.shows.deleted", ev, "")
	sub.handle(msg)
	assert.True(t, msg.naked)
	assert.EqualValues(t, 1, f.count(t, "tenant", models.KindShow))

	f.store.FailOn(storage.OpCharge, models.ShowCollection, nil)
	msg = newDelivery(t, "documents.shows.deleted", ev, "")
	msg.delivered = 2
	sub.handle(msg)
	assert.True(t, msg.acked)
	assert.EqualValues(t, 0, f.count(t, "tenant", models.KindShow))
}
