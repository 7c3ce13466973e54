package proto

import (
	"errors"
	"net/url"
	"testing"

	"github.com/vovakirdan/deploydeck/internal/backend"
)

func TestQueryRoundTrip(t *testing.T) {
	in := backend.Query{
		Filter:     map[string]string{"scope": "global", "status": "failed"},
		OrderBy:    backend.FieldCreatedAt,
		Descending: true,
		Limit:      25,
	}

	v := EncodeQuery(in)
	if got := v.Encode(); got != "desc=true&eq.scope=global&eq.status=failed&limit=25&order=created_at" {
		t.Fatalf("unexpected encoding %q", got)
	}

	out, err := DecodeQuery(v)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.OrderBy != in.OrderBy || out.Descending != in.Descending || out.Limit != in.Limit {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if len(out.Filter) != 2 || out.Filter["scope"] != "global" || out.Filter["status"] != "failed" {
		t.Fatalf("filter mismatch: %+v", out.Filter)
	}
}

func TestDecodeQueryRejectsBadValues(t *testing.T) {
	for _, raw := range []string{"limit=abc", "limit=-1", "desc=maybe"} {
		v, _ := url.ParseQuery(raw)
		if _, err := DecodeQuery(v); !errors.Is(err, backend.ErrInvalidQuery) {
			t.Fatalf("%s: expected ErrInvalidQuery, got %v", raw, err)
		}
	}
}

func TestDecodeQueryEmpty(t *testing.T) {
	q, err := DecodeQuery(url.Values{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if q.Filter != nil || q.Limit != 0 || q.Descending {
		t.Fatalf("expected zero query, got %+v", q)
	}
}

func TestSubscriptionRoundTrip(t *testing.T) {
	v := EncodeSubscription(backend.CollectionMessages, backend.InsertsOnly(map[string]string{"scope": "ops"}))

	collection, f, err := DecodeSubscription(v)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if collection != backend.CollectionMessages {
		t.Fatalf("collection = %q", collection)
	}
	if len(f.Types) != 1 || f.Types[0] != backend.EventInsert {
		t.Fatalf("types = %v", f.Types)
	}
	if f.Match["scope"] != "ops" {
		t.Fatalf("match = %v", f.Match)
	}
}

func TestDecodeSubscriptionErrors(t *testing.T) {
	v, _ := url.ParseQuery("collection=invoices")
	if _, _, err := DecodeSubscription(v); !errors.Is(err, backend.ErrUnknownCollection) {
		t.Fatalf("expected ErrUnknownCollection, got %v", err)
	}

	v, _ = url.ParseQuery("collection=messages&event=insert,upsert")
	if _, _, err := DecodeSubscription(v); !errors.Is(err, backend.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestEventFrame(t *testing.T) {
	ev := backend.Event{
		Type:       backend.EventDelete,
		Collection: backend.CollectionProfiles,
		Record:     backend.Record{"id": "u1"},
	}
	frame := EventFrame(ev)
	if frame.Type != OutboundTypeEvent || frame.Event != "delete" {
		t.Fatalf("unexpected frame %+v", frame)
	}
	back, err := frame.ToEvent()
	if err != nil {
		t.Fatalf("to event: %v", err)
	}
	if back.Type != ev.Type || back.Collection != ev.Collection || back.Record.ID() != "u1" {
		t.Fatalf("unexpected event %+v", back)
	}
}
