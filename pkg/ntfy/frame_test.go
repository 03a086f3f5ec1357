package ntfy

import (
	"errors"
	"testing"

	"ntfy2tg/pkg/bus"
)

func TestDecodeMessage(t *testing.T) {
	frame := `{"id":"sPs71M8A2T","time":1643935928,"event":"message","topic":"alerts","priority":4,` +
		`"tags":["warning","disk"],"title":"Disk Full","message":"Root partition at 95%","click":"https://host/dash",` +
		`"content_type":"text/markdown"}`

	n, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	if n.ID != "sPs71M8A2T" || n.Topic != "alerts" || n.Event != bus.EventKindMessage {
		t.Fatalf("unexpected identity fields: %+v", n)
	}
	if n.Title != "Disk Full" || n.Message != "Root partition at 95%" {
		t.Fatalf("unexpected payload: %+v", n)
	}
	if len(n.Tags) != 2 || n.Tags[0] != "warning" || n.Tags[1] != "disk" {
		t.Fatalf("tags = %v", n.Tags)
	}
	if n.Priority != 4 || n.Click != "https://host/dash" {
		t.Fatalf("priority/click = %d/%q", n.Priority, n.Click)
	}
	if !n.IsMarkdown() {
		t.Fatal("expected markdown content type")
	}
}

func TestDecodeControlEvents(t *testing.T) {
	for _, event := range []bus.NotificationEvent{bus.EventKindOpen, bus.EventKindKeepalive, bus.EventKindPollRequest} {
		n, err := Decode([]byte(`{"id":"x","event":"` + string(event) + `"}`))
		if err != nil {
			t.Fatalf("Decode(%s) error: %v", event, err)
		}
		if n.Event != event {
			t.Fatalf("event = %q, want %q", n.Event, event)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := map[string]string{
		"invalid json":      `{"id":`,
		"missing event":     `{"id":"x","topic":"alerts"}`,
		"message w/o topic": `{"id":"x","event":"message","message":"hi"}`,
		"wrong type":        `{"id":"x","event":"message","topic":"alerts","tags":"warning"}`,
	}

	for name, frame := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(frame)); !errors.Is(err, ErrDecode) {
				t.Fatalf("Decode error = %v, want ErrDecode", err)
			}
		})
	}
}

func TestRecentIDsEvictsOldest(t *testing.T) {
	r := newRecentIDs(2)
	r.Add("a")
	r.Add("b")
	r.Add("a")
	if !r.Contains("a") || !r.Contains("b") {
		t.Fatal("expected a and b to be remembered")
	}

	r.Add("c")
	if r.Contains("a") {
		t.Fatal("expected a to be evicted")
	}
	if !r.Contains("b") || !r.Contains("c") {
		t.Fatal("expected b and c to be remembered")
	}

	r.Add("")
	if r.Contains("") {
		t.Fatal("empty id must never be remembered")
	}
}
