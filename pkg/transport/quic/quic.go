// Package quic implements the overlay transport over QUIC with
// length-prefixed frames on a single bidirectional stream per session.
package quic

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/Kaholaz/wander/pkg/transport"
)

const (
	maxFrame = 1 << 24
	alpn     = "wander"
)

// Transport implements transport.Transport over QUIC. The listener side
// uses an ephemeral self-signed certificate; peer identity is bound at
// the application layer by the hello exchange, so the dialer skips
// certificate verification.
type Transport struct {
	tlsConf  *tls.Config
	quicConf *quicgo.Config
}

func New() (*Transport, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, err
	}
	return &Transport{
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{alpn},
			MinVersion:   tls.VersionTLS13,
		},
		quicConf: &quicgo.Config{},
	}, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, err
	}
	ql := &listener{l: l, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
	go ql.acceptLoop(ctx)
	go func() { <-ctx.Done(); _ = ql.Close() }()
	return ql, nil
}

func (t *Transport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Session, error) {
	tlsClient := &tls.Config{
		InsecureSkipVerify: true, // identity is bound by the hello exchange
		NextProtos:         []string{alpn},
		MinVersion:         tls.VersionTLS13,
	}
	c, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
	if err != nil {
		return nil, err
	}
	s := &session{peer: peer, c: c, establishedAt: time.Now()}
	go func() { <-ctx.Done(); _ = s.Close() }()
	return s, nil
}

type listener struct {
	l       *quicgo.Listener
	newCh   chan *session
	closeCh chan struct{}
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("quic: listener closed")
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
	return l.l.Close()
}

func (l *listener) acceptLoop(ctx context.Context) {
	for {
		c, err := l.l.Accept(ctx)
		if err != nil {
			return
		}
		s := &session{
			peer:          transport.PeerInfo{Addr: c.RemoteAddr().String()},
			c:             c,
			inbound:       true,
			establishedAt: time.Now(),
		}
		select {
		case l.newCh <- s:
		default:
			_ = s.Close()
		}
	}
}

type session struct {
	mu            sync.Mutex // guards lastSeen
	openMu        sync.Mutex // guards ctrl; held across stream setup
	peer          transport.PeerInfo
	c             *quicgo.Conn
	inbound       bool
	establishedAt time.Time
	lastSeen      time.Time
	ctrl          *qstream
}

func (s *session) Peer() transport.PeerInfo      { return s.peer }
func (s *session) SetPeer(pi transport.PeerInfo) { s.peer = pi }
func (s *session) TransportKind() transport.Kind { return transport.KindQUIC }
func (s *session) LocalAddr() net.Addr           { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr          { return s.c.RemoteAddr() }

func (s *session) OpenStream(ctx context.Context) (transport.Stream, error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	if s.ctrl != nil {
		return s.ctrl, nil
	}

	var (
		qs  *quicgo.Stream
		err error
	)
	if s.inbound {
		qs, err = s.c.AcceptStream(ctx)
	} else {
		qs, err = s.c.OpenStreamSync(ctx)
	}
	if err != nil {
		return nil, err
	}
	s.ctrl = &qstream{
		qs:     qs,
		br:     bufio.NewReader(qs),
		bw:     bufio.NewWriter(qs),
		parent: s,
	}
	return s.ctrl, nil
}

func (s *session) AcceptStream(ctx context.Context) (transport.Stream, error) {
	return s.OpenStream(ctx)
}

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

func (s *session) Close() error { return s.c.CloseWithError(0, "") }

// qstream frames a QUIC bidirectional stream with u32 LE prefixes.
type qstream struct {
	mu     sync.Mutex
	qs     *quicgo.Stream
	br     *bufio.Reader
	bw     *bufio.Writer
	parent *session
}

func (st *qstream) SendBytes(b []byte) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := st.bw.Write(lenbuf[:]); err != nil {
		return err
	}
	if _, err := st.bw.Write(b); err != nil {
		return err
	}
	if err := st.bw.Flush(); err != nil {
		return err
	}
	st.parent.touch()
	return nil
}

func (st *qstream) RecvBytes() ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(st.br, lenbuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(lenbuf[:]))
	if n > maxFrame {
		return nil, errors.New("quic: invalid frame size")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(st.br, buf); err != nil {
		return nil, err
	}
	st.parent.touch()
	return buf, nil
}

func (st *qstream) Close() error { return st.qs.Close() }

// selfSignedCert generates a short-lived self-signed TLS certificate
// for local QUIC use.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
