// Package server implements the line-oriented TCP query server: it
// listens for HAMMER(...) request lines, hands them to the action
// parser and Hardware Executor, and writes back a JSON bitflip map per
// line (spec.md §6). This is the only network-facing piece of the
// system; everything it calls is pure request/response.
package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/rhlab/hammercore/action"
	"github.com/rhlab/hammercore/executor"
)

// Executor is the subset of executor.Executor the server depends on,
// so tests can substitute a fake without standing up a real transport.
type Executor interface {
	ExecuteHammeringTest(actions action.ActionSequence) (executor.Result, error)
}

// Server accepts connections on a single TCP port and serves the
// HAMMER(...) query protocol one line at a time. Only one session is
// served at a time per the single-threaded cooperative scheduling
// model (spec.md §5): connections are handled in turn on the accepting
// goroutine, so a second client waits until the current one closes, and
// the Executor, which is not safe for concurrent use, is only ever
// called from that one goroutine.
type Server struct {
	exec Executor
	log  *logrus.Entry
}

// New returns a Server that serves queries via exec.
func New(exec Executor, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{exec: exec, log: log}
}

// ListenAndServe listens on addr (e.g. ":4343") and serves connections
// one after another. It returns only when accepting a connection fails;
// the listener is not exposed to the caller.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	defer ln.Close()
	s.log.WithField("addr", addr).Info("query server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("server: accept: %w", err)
		}
		s.handleConn(conn)
	}
}

// handleConn serves one connection: each non-empty line is parsed and
// answered with a JSON bitflip map; an empty line closes the
// connection (spec.md §6). A malformed token does not crash the
// server; per spec.md §7 it is recovered at the request boundary.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	peer := conn.RemoteAddr().String()

	for {
		line, err := reader.ReadString('\n')
		trimmed := trimEOL(line)
		if trimmed == "" {
			if err != nil {
				return
			}
			// An explicit empty line closes the connection.
			return
		}

		resp, handleErr := s.handleLine(trimmed)
		if handleErr != nil {
			s.log.WithError(handleErr).WithField("peer", peer).Warn("malformed request")
			resp = []byte("{}")
		}
		if _, writeErr := conn.Write(append(resp, '\n')); writeErr != nil {
			s.log.WithError(writeErr).WithField("peer", peer).Warn("write failed")
			return
		}
		if err != nil {
			return
		}
	}
}

// handleLine parses one request line and executes it, returning the
// JSON-encoded response body (without trailing newline).
func (s *Server) handleLine(line string) ([]byte, error) {
	actions, err := action.ParseLine(line)
	if err != nil {
		return nil, err
	}
	result, err := s.exec.ExecuteHammeringTest(actions)
	if err != nil {
		return nil, err
	}
	return encodeResult(result)
}

// encodeResult renders a Result as the wire JSON object mapping
// decimal logical-row strings to bitflip counts.
func encodeResult(result executor.Result) ([]byte, error) {
	out := make(map[string]uint64, len(result))
	for row, flips := range result {
		out[strconv.FormatUint(uint64(row), 10)] = flips
	}
	return json.Marshal(out)
}

func trimEOL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
