package clipboard

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func newTestBroadcaster() (*Broadcaster, *Registry, *Metrics) {
	m := NewMetrics(prometheus.NewRegistry())
	r := NewRegistry()
	return NewBroadcaster(r, m), r, m
}

func drain(c *Conn) []string {
	var out []string
	for _, f := range c.takeQueued() {
		out = append(out, string(f.data))
	}
	return out
}

func TestEncodeEvent(t *testing.T) {
	name := "notes.txt"
	for _, tc := range []struct {
		event Event
		want  string
	}{
		{TextUpdated{Text: "hello"}, `{"type":"update","text":"hello"}`},
		{TextUpdated{}, `{"type":"update","text":""}`},
		{FileChanged{Name: &name}, `{"type":"fileInfo","name":"notes.txt"}`},
		{FileChanged{}, `{"type":"fileInfo","name":null}`},
	} {
		got, err := encodeEvent(tc.event)
		if err != nil {
			t.Fatalf("encodeEvent(%#v): %v", tc.event, err)
		}
		if string(got) != tc.want {
			t.Errorf("encodeEvent(%#v) = %s, want %s", tc.event, got, tc.want)
		}
	}
}

func TestDecodeMessage(t *testing.T) {
	msg, err := decodeMessage([]byte(`{"type":"edit","text":""}`))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != messageTypeEdit || msg.Text == nil || *msg.Text != "" {
		t.Fatalf("decodeMessage = %+v", msg)
	}
	for _, raw := range []string{`nope`, `{"type":"edit","text":5}`, ``} {
		if _, err := decodeMessage([]byte(raw)); err == nil {
			t.Errorf("decodeMessage(%q) succeeded", raw)
		}
	}
}

func TestBroadcast_QueuesForEveryOpenConnection(t *testing.T) {
	b, r, m := newTestBroadcaster()
	a, c := testConn(), testConn()
	r.Add(a)
	r.Add(c)

	if n := b.Broadcast(TextUpdated{Text: "hello"}); n != 2 {
		t.Fatalf("Broadcast queued for %d, want 2", n)
	}
	for _, conn := range []*Conn{a, c} {
		frames := drain(conn)
		if len(frames) != 1 || frames[0] != `{"type":"update","text":"hello"}` {
			t.Fatalf("frames = %v", frames)
		}
	}
	if got := counterValue(t, m.broadcastsTotal.WithLabelValues("update")); got != 1 {
		t.Fatalf("broadcasts_total = %v, want 1", got)
	}
	if got := counterValue(t, m.framesQueued); got != 2 {
		t.Fatalf("frames_queued_total = %v, want 2", got)
	}
}

func TestBroadcast_SkipsClosedAndUnopenedConnections(t *testing.T) {
	b, r, m := newTestBroadcaster()
	open := testConn()
	closed := testConn()
	closed.close()
	pending := newConn(nil, 8)
	r.Add(open)
	r.Add(closed)
	r.Add(pending)

	if n := b.Broadcast(FileChanged{}); n != 1 {
		t.Fatalf("Broadcast queued for %d, want 1", n)
	}
	if len(drain(closed)) != 0 || len(drain(pending)) != 0 {
		t.Fatal("frame queued for a connection that is not open")
	}
	if got := counterValue(t, m.framesSkipped); got != 2 {
		t.Fatalf("frames_skipped_total = %v, want 2", got)
	}
}

func TestBroadcast_FullQueueKeepsNewestFrame(t *testing.T) {
	b, r, m := newTestBroadcaster()
	slow := newConn(nil, 1)
	slow.markOpen()
	fast := testConn()
	r.Add(slow)
	r.Add(fast)

	b.Broadcast(TextUpdated{Text: "1"})
	if n := b.Broadcast(TextUpdated{Text: "2"}); n != 2 {
		t.Fatalf("Broadcast queued for %d, want 2", n)
	}
	if got := drain(fast); len(got) != 2 {
		t.Fatalf("fast connection got %v", got)
	}
	got := drain(slow)
	if len(got) != 1 || got[0] != `{"type":"update","text":"2"}` {
		t.Fatalf("slow connection got %v", got)
	}
	if got := counterValue(t, m.framesSuperseded); got != 1 {
		t.Fatalf("frames_superseded_total = %v, want 1", got)
	}
}

func TestBroadcast_FullQueueKeepsOtherKinds(t *testing.T) {
	b, r, m := newTestBroadcaster()
	slow := newConn(nil, 1)
	slow.markOpen()
	r.Add(slow)

	name := "a.txt"
	b.Broadcast(FileChanged{Name: &name})
	b.Broadcast(TextUpdated{Text: "1"})
	b.Broadcast(TextUpdated{Text: "2"})

	got := drain(slow)
	want := []string{`{"type":"fileInfo","name":"a.txt"}`, `{"type":"update","text":"2"}`}
	if len(got) != len(want) {
		t.Fatalf("slow connection got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d = %s, want %s", i, got[i], want[i])
		}
	}
	if got := counterValue(t, m.framesSuperseded); got != 1 {
		t.Fatalf("frames_superseded_total = %v, want 1", got)
	}
}

func TestUnicast(t *testing.T) {
	b, r, _ := newTestBroadcaster()
	target, other := testConn(), testConn()
	r.Add(target)
	r.Add(other)

	if !b.Unicast(target, TextUpdated{Text: "only you"}) {
		t.Fatal("Unicast = false")
	}
	if len(drain(other)) != 0 {
		t.Fatal("unicast reached another connection")
	}
	if got := drain(target); len(got) != 1 {
		t.Fatalf("target got %v", got)
	}
}
