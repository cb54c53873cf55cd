package transport

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsPair starts an httptest server that upgrades one connection and returns
// both ends wrapped as streams, plus the raw server-side conn.
func wsPair(t *testing.T) (client *WSStream, server *WSStream, raw *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	cc, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	select {
	case raw = <-connCh:
	case <-time.After(5 * time.Second):
		t.Fatal("server side never upgraded")
	}
	return NewWSStream(cc), NewWSStream(raw), raw
}

// TestWSStreamSpansMessages writes several messages and reads them back as one
// continuous byte stream through a small buffer.
func TestWSStreamSpansMessages(t *testing.T) {
	client, server, _ := wsPair(t)
	defer client.Close()
	defer server.Close()

	chunks := [][]byte{[]byte("hello "), []byte("control "), {}, []byte("channel")}
	go func() {
		for _, c := range chunks {
			if _, err := client.Write(c); err != nil {
				t.Errorf("Write: %v", err)
				return
			}
		}
	}()

	want := []byte("hello control channel")
	got := make([]byte, len(want))
	buf := make([]byte, 3)
	off := 0
	for off < len(want) {
		n, err := server.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		off += copy(got[off:], buf[:n])
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWSStreamSkipsTextMessages(t *testing.T) {
	client, server, raw := wsPair(t)
	defer client.Close()

	go func() {
		raw.WriteMessage(websocket.TextMessage, []byte(`{"type":"ready"}`))
		server.Write([]byte{0x01, 0x02})
	}()

	buf := make([]byte, 8)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte{0x01, 0x02}) {
		t.Fatalf("got % x", buf[:n])
	}
	server.Close()
}

// TestWSStreamCloseIsEOF verifies that a normal close on one side reads as a
// clean io.EOF on the other.
func TestWSStreamCloseIsEOF(t *testing.T) {
	client, server, _ := wsPair(t)
	defer server.Close()

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err := server.Read(make([]byte, 8))
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
