package transport

import (
	"net"
	"testing"
	"time"
)

func startListener(t *testing.T) (net.Listener, chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	conns := make(chan net.Conn, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- conn
		}
	}()
	return ln, conns
}

func TestSocketLazyDialAndReuse(t *testing.T) {
	ln, conns := startListener(t)

	c := NewConnector(ln.Addr().String(), time.Second, time.Second)
	defer c.Drop()

	first, err := c.Socket()
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	<-conns

	second, err := c.Socket()
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	if first != second {
		t.Error("expected the same connection to be reused")
	}
	select {
	case <-conns:
		t.Error("second Socket call opened a new connection")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropForcesReconnect(t *testing.T) {
	ln, conns := startListener(t)

	c := NewConnector(ln.Addr().String(), time.Second, time.Second)
	defer c.Drop()

	if _, err := c.Socket(); err != nil {
		t.Fatalf("Socket: %v", err)
	}
	<-conns

	c.Drop()
	if _, err := c.Socket(); err != nil {
		t.Fatalf("Socket after Drop: %v", err)
	}
	select {
	case <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("Drop did not force a reconnect")
	}
}

func TestWriteDeliversPayload(t *testing.T) {
	ln, conns := startListener(t)

	c := NewConnector(ln.Addr().String(), time.Second, time.Second)
	defer c.Drop()

	if err := c.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	conn := <-conns
	defer conn.Close()

	buf := make([]byte, 16)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello\n" {
		t.Errorf("received %q", buf[:n])
	}
}

func TestWriteErrorDropsConnection(t *testing.T) {
	ln, conns := startListener(t)

	c := NewConnector(ln.Addr().String(), time.Second, time.Second)
	defer c.Drop()

	if _, err := c.Socket(); err != nil {
		t.Fatal(err)
	}
	server := <-conns
	server.Close()

	// A closed peer may take one or two writes to surface the error.
	var failed bool
	for i := 0; i < 10 && !failed; i++ {
		if err := c.Write([]byte("x")); err != nil {
			failed = true
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !failed {
		t.Skip("peer close never surfaced a write error")
	}

	// After the failure the connector must reconnect on demand.
	if err := c.Write([]byte("again\n")); err != nil {
		t.Fatalf("Write after failure: %v", err)
	}
	select {
	case <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect after write failure")
	}
}

func TestConnectFailure(t *testing.T) {
	// Dial a port nothing listens on.
	ln, _ := startListener(t)
	addr := ln.Addr().String()
	ln.Close()

	c := NewConnector(addr, 200*time.Millisecond, time.Second)
	if _, err := c.Socket(); err == nil {
		t.Fatal("expected a connect error")
	}
}
