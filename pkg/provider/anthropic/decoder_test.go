package anthropic

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name      string
		buf       string
		chunk     string
		wantLines []string
		wantRest  string
	}{
		{"empty", "", "", nil, ""},
		{"one complete line", "", "data: {}\n", []string{"data: {}"}, ""},
		{"partial only", "", "data: {", nil, "data: {"},
		{"joins buffer", "data: {", "}\n", []string{"data: {}"}, ""},
		{"crlf", "", "a\r\nb\r\n", []string{"a", "b"}, ""},
		{"blank lines", "", "a\n\nb", []string{"a", ""}, "b"},
		{"only cr of crlf removed", "", "a\r\r\n", []string{"a\r"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, rest := SplitLines([]byte(tt.buf), []byte(tt.chunk))
			if len(lines) != len(tt.wantLines) {
				t.Fatalf("lines = %q, want %q", lines, tt.wantLines)
			}
			for i := range lines {
				if string(lines[i]) != tt.wantLines[i] {
					t.Errorf("line %d = %q, want %q", i, lines[i], tt.wantLines[i])
				}
			}
			if string(rest) != tt.wantRest {
				t.Errorf("rest = %q, want %q", rest, tt.wantRest)
			}
		})
	}
}

func TestSplitLinesConcatenationInvariant(t *testing.T) {
	input := "event: ping\ndata: {\"type\":\"ping\"}\r\n\n: comment\ndata: tail"
	for cut := 0; cut <= len(input); cut++ {
		lines1, rest := SplitLines(nil, []byte(input[:cut]))
		lines2, rest2 := SplitLines(rest, []byte(input[cut:]))

		whole, wholeRest := SplitLines(nil, []byte(input))
		all := append(lines1, lines2...)
		if len(all) != len(whole) {
			t.Fatalf("cut %d: %d lines, want %d", cut, len(all), len(whole))
		}
		for i := range all {
			if string(all[i]) != string(whole[i]) {
				t.Errorf("cut %d line %d = %q, want %q", cut, i, all[i], whole[i])
			}
		}
		if string(rest2) != string(wholeRest) {
			t.Errorf("cut %d rest = %q, want %q", cut, rest2, wholeRest)
		}
	}
}

func TestSplitLinesDoesNotRetainInput(t *testing.T) {
	buf := []byte("abc")
	_, rest := SplitLines(buf, []byte("def"))
	buf[0] = 'X'
	if string(rest) != "abcdef" {
		t.Errorf("rest changed with caller buffer: %q", rest)
	}
}

func TestDecoderFeedPartialLines(t *testing.T) {
	d := NewDecoder()

	events, err := d.Feed([]byte("event: message_start\ndata: {\"type\":\"pi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("got %d events from an incomplete line", len(events))
	}

	events, err = d.Feed([]byte("ng\"}\n\ndata: {\"type\":\"message_stop\"}\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if _, ok := events[0].(Ping); !ok {
		t.Errorf("events[0] = %T, want Ping", events[0])
	}
	if _, ok := events[1].(MessageStop); !ok {
		t.Errorf("events[1] = %T, want MessageStop", events[1])
	}
}

func TestDecoderSkipsNonDataLines(t *testing.T) {
	d := NewDecoder()
	events, err := d.Feed([]byte(": keep-alive\nevent: ping\nid: 7\n\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want none", len(events))
	}
}

func TestDecoderDataWithoutSpace(t *testing.T) {
	d := NewDecoder()
	events, err := d.Feed([]byte("data:{\"type\":\"ping\"}\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
}

func TestDecoderMalformedStops(t *testing.T) {
	d := NewDecoder()
	events, err := d.Feed([]byte("data: {\"type\":\"ping\"}\ndata: {not json\ndata: {\"type\":\"message_stop\"}\n"))

	if !IsStreamError(err, StreamMalformed) {
		t.Fatalf("err = %v, want malformed stream error", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events before the malformed line, want 1", len(events))
	}
	if _, ok := events[0].(Ping); !ok {
		t.Errorf("events[0] = %T, want Ping", events[0])
	}
}

func TestDecoderUnknownEventType(t *testing.T) {
	d := NewDecoder()
	events, err := d.Feed([]byte("data: {\"type\":\"thinking_summary\",\"x\":1}\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unknown, ok := events[0].(UnknownEvent)
	if !ok {
		t.Fatalf("events[0] = %T, want UnknownEvent", events[0])
	}
	if unknown.Type != "thinking_summary" {
		t.Errorf("type = %q", unknown.Type)
	}
}

func TestDecoderCloseDiscardsFragment(t *testing.T) {
	d := NewDecoder()
	if _, err := d.Feed([]byte("data: {\"type\":\"ping\"}")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d.Close()

	events, err := d.Feed([]byte("\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("fragment survived Close: %v", events)
	}
}

// oneByteReader returns its input one byte per Read.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestDecoderRunByteAtATime(t *testing.T) {
	body := "event: message_start\n" +
		`data: {"type":"message_start","message":{"id":"msg_1","role":"assistant","model":"m","usage":{"input_tokens":1,"output_tokens":0}}}` + "\n\n" +
		`data: {"type":"message_stop"}` + "\n\n"

	var types []string
	err := NewDecoder().Run(context.Background(), oneByteReader{strings.NewReader(body)}, func(ev Event) error {
		types = append(types, ev.EventType())
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(types, ",") != "message_start,message_stop" {
		t.Errorf("types = %v", types)
	}
}

func TestDecoderRunStopsOnYieldError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := NewDecoder().Run(context.Background(),
		strings.NewReader("data: {\"type\":\"ping\"}\ndata: {\"type\":\"ping\"}\n"),
		func(Event) error {
			calls++
			return stop
		})
	if !errors.Is(err, stop) {
		t.Errorf("err = %v, want yield error", err)
	}
	if calls != 1 {
		t.Errorf("yield called %d times after failing, want 1", calls)
	}
}

func TestDecoderRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewDecoder().Run(ctx, strings.NewReader("data: {\"type\":\"ping\"}\n"), func(Event) error {
		t.Error("yield called after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDecoderRunReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("data: {\"type\":\"ping\"}\n"), errReader{boom})

	var got int
	err := NewDecoder().Run(context.Background(), r, func(Event) error {
		got++
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want read error", err)
	}
	if got != 1 {
		t.Errorf("yielded %d events, want 1", got)
	}
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
