package server

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rhlab/hammercore/action"
	"github.com/rhlab/hammercore/executor"
)

// fakeExecutor implements Executor with one canned response returned
// for every request, and counts its calls, so tests can drive specific
// response shapes without a real transport.
type fakeExecutor struct {
	result executor.Result
	err    error
	calls  int
}

func (f *fakeExecutor) ExecuteHammeringTest(actions action.ActionSequence) (executor.Result, error) {
	f.calls++
	return f.result, f.err
}

func startTestServer(t *testing.T, exec Executor) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New(exec, nil)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handleConn(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestServerRoundTrip(t *testing.T) {
	fake := &fakeExecutor{result: executor.Result{0: 3, 2: 1}}
	addr := startTestServer(t, fake)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte("HAMMER(0,10000,0) HAMMER(2,10000,1)\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	var got map[string]uint64
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("unmarshal response %q: %v", line, err)
	}
	want := map[string]uint64{"0": 3, "2": 1}
	if len(got) != len(want) || got["0"] != want["0"] || got["2"] != want["2"] {
		t.Errorf("response = %v, want %v", got, want)
	}
	if fake.calls != 1 {
		t.Errorf("executor called %d times, want 1", fake.calls)
	}
}

func TestServerMalformedTokenDoesNotCrash(t *testing.T) {
	fake := &fakeExecutor{result: executor.Result{}}
	addr := startTestServer(t, fake)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := conn.Write([]byte("not a valid token\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if line != "{}\n" {
		t.Errorf("response = %q, want %q", line, "{}\n")
	}

	// The connection must still be usable afterward.
	if _, err := conn.Write([]byte("\n")); err != nil {
		t.Fatalf("write empty line: %v", err)
	}
}

func TestServerEmptyLineClosesConnection(t *testing.T) {
	fake := &fakeExecutor{result: executor.Result{}}
	addr := startTestServer(t, fake)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := conn.Write([]byte("\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reader := bufio.NewReader(conn)
	if _, err := reader.ReadByte(); err == nil {
		t.Errorf("expected connection to be closed after empty line, but read succeeded")
	}
}
