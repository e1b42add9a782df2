// Package mem implements an in-process transport backed by net.Pipe.
// It stands in for real links in tests and single-process overlay
// simulations.
package mem

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Kaholaz/wander/pkg/transport"
)

const maxFrame = 1 << 24

// Transport registers listeners by name and connects dialers to them
// with synchronous pipes.
type Transport struct {
	mu        sync.Mutex
	listeners map[string]*listener
}

func New() *Transport { return &Transport{listeners: make(map[string]*listener)} }

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Listen(ctx context.Context, name string) (transport.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.listeners[name]; ok {
		return nil, errors.New("mem: listener already exists")
	}
	l := &listener{name: name, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
	t.listeners[name] = l
	go func() {
		select {
		case <-ctx.Done():
		case <-l.closeCh:
		}
		_ = l.Close()
		t.mu.Lock()
		delete(t.listeners, name)
		t.mu.Unlock()
	}()
	return l, nil
}

func (t *Transport) Dial(ctx context.Context, name string, peer transport.PeerInfo) (transport.Session, error) {
	t.mu.Lock()
	l := t.listeners[name]
	t.mu.Unlock()
	if l == nil {
		return nil, errors.New("mem: no such listener")
	}
	c1, c2 := net.Pipe()
	srv := newSession(c1, transport.PeerInfo{Addr: name})
	cli := newSession(c2, peer)
	select {
	case l.newCh <- srv:
	default:
		_ = srv.Close()
		_ = cli.Close()
		return nil, errors.New("mem: listener backlog full")
	}
	return cli, nil
}

type listener struct {
	name    string
	newCh   chan *session
	closeCh chan struct{}
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("mem: listener closed")
	case s := <-l.newCh:
		return s, nil
	}
}

func (l *listener) Close() error {
	select {
	case <-l.closeCh:
	default:
		close(l.closeCh)
	}
	return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type session struct {
	mu            sync.Mutex
	peer          transport.PeerInfo
	c             net.Conn
	br            *bufio.Reader
	bw            *bufio.Writer
	establishedAt time.Time
	lastSeen      time.Time
}

func newSession(c net.Conn, peer transport.PeerInfo) *session {
	return &session{
		peer:          peer,
		c:             c,
		br:            bufio.NewReader(c),
		bw:            bufio.NewWriter(c),
		establishedAt: time.Now(),
	}
}

func (s *session) Peer() transport.PeerInfo      { return s.peer }
func (s *session) SetPeer(pi transport.PeerInfo) { s.peer = pi }
func (s *session) TransportKind() transport.Kind { return transport.KindMem }
func (s *session) LocalAddr() net.Addr           { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr          { return s.c.RemoteAddr() }

func (s *session) OpenStream(_ context.Context) (transport.Stream, error)   { return s, nil }
func (s *session) AcceptStream(_ context.Context) (transport.Stream, error) { return s, nil }

func (s *session) Quality() transport.Quality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: s.lastSeen}
}

// touch records activity; reader and writer run on separate goroutines.
func (s *session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *session) Close() error { return s.c.Close() }

// Stream methods: length-prefixed frames (u32 LE).
func (s *session) SendBytes(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := s.bw.Write(lenbuf[:]); err != nil {
		return err
	}
	if _, err := s.bw.Write(b); err != nil {
		return err
	}
	if err := s.bw.Flush(); err != nil {
		return err
	}
	s.lastSeen = time.Now()
	return nil
}

func (s *session) RecvBytes() ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(s.br, lenbuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(lenbuf[:]))
	if n > maxFrame {
		return nil, errors.New("mem: invalid frame size")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.br, buf); err != nil {
		return nil, err
	}
	s.touch()
	return buf, nil
}
