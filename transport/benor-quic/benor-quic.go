package benorquic

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/usernamenenad/benor-quic/core"
)

const alpnProtocol = "benor-quic"

// Codec serializes and deserializes messages for transport over the wire.
type Codec interface {
	Marshal(msg core.Message) ([]byte, error)
	Unmarshal(data []byte) (core.Message, error)
}

// peerStream holds the QUIC connection and the single bidirectional stream
// to one peer. Protocol messages are tiny and all of one kind, so one
// stream per peer is enough.
type peerStream struct {
	conn   *quic.Conn
	stream *quic.Stream
	mu     sync.Mutex
}

// QUICTransport implements core.Transport over QUIC with one stream per
// peer, framed like the TCP transport (4-byte big-endian length prefix).
//
// Broadcast is fire-and-forget: peers that cannot be written to are
// skipped, the failure logged at debug level and otherwise swallowed.
type QUICTransport struct {
	nodeId core.NodeId
	codec  Codec

	quicTr   *quic.Transport
	udpConn  *net.UDPConn
	listener *quic.Listener

	peers    map[core.NodeId]string
	outPeers map[core.NodeId]*peerStream
	outMu    sync.RWMutex

	inConns []*quic.Conn
	inMu    sync.Mutex

	msgCh   chan core.Message
	readyCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// NewQUICTransport creates a QUIC transport and starts listening for
// connections. Use ":0" for listenAddr to let the OS assign a random port.
func NewQUICTransport(
	nodeId core.NodeId,
	listenAddr string,
	codec Codec,
	logger *slog.Logger,
) (*QUICTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cert, err := selfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}

	serverTLS := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
	}

	udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp addr: %w", err)
	}

	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}

	qtr := &quic.Transport{Conn: udpConn}

	quicConf := &quic.Config{
		MaxIncomingStreams: 4,
		MaxIdleTimeout:     30 * time.Second,
		KeepAlivePeriod:    10 * time.Second,
	}

	listener, err := qtr.Listen(serverTLS, quicConf)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("quic listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &QUICTransport{
		nodeId:   nodeId,
		codec:    codec,
		quicTr:   qtr,
		udpConn:  udpConn,
		listener: listener,
		outPeers: make(map[core.NodeId]*peerStream),
		msgCh:    make(chan core.Message, 256),
		readyCh:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}

	t.wg.Add(1)
	go t.acceptLoop()

	t.logger.Info("QUIC transport listening", "nodeId", nodeId, "addr", udpConn.LocalAddr().String())

	return t, nil
}

// Addr returns the local UDP address the transport is listening on.
func (t *QUICTransport) Addr() string {
	return t.udpConn.LocalAddr().String()
}

// Connect starts establishing outgoing QUIC connections to all peers.
func (t *QUICTransport) Connect(peers map[core.NodeId]string) {
	t.peers = peers
	if len(peers) == 0 {
		close(t.readyCh)
		return
	}
	t.wg.Add(1)
	go t.connectToPeers()
}

func (t *QUICTransport) connectToPeers() {
	defer t.wg.Done()

	var connectWg sync.WaitGroup
	for peerId, peerAddr := range t.peers {
		connectWg.Add(1)
		go func(id core.NodeId, addr string) {
			defer connectWg.Done()
			t.connectWithRetry(id, addr)
		}(peerId, peerAddr)
	}

	connectWg.Wait()
	close(t.readyCh)
	t.logger.Info("all QUIC peers connected", "nodeId", t.nodeId)
}

func (t *QUICTransport) connectWithRetry(peerId core.NodeId, peerAddr string) {
	clientTLS := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProtocol},
	}

	quicConf := &quic.Config{
		MaxIncomingStreams: 4,
	}

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		udpAddr, err := net.ResolveUDPAddr("udp", peerAddr)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		conn, err := t.quicTr.Dial(t.ctx, udpAddr, clientTLS, quicConf)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		stream, err := conn.OpenStreamSync(t.ctx)
		if err != nil {
			conn.CloseWithError(0, "failed to open stream")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		t.outMu.Lock()
		t.outPeers[peerId] = &peerStream{conn: conn, stream: stream}
		t.outMu.Unlock()

		t.logger.Debug("connected to QUIC peer", "nodeId", t.nodeId, "peer", peerId)
		return
	}
}

func (t *QUICTransport) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept(t.ctx)
		if err != nil {
			select {
			case <-t.ctx.Done():
			default:
				t.logger.Error("QUIC accept error", "error", err)
			}
			return
		}

		t.inMu.Lock()
		t.inConns = append(t.inConns, conn)
		t.inMu.Unlock()

		t.wg.Add(1)
		go t.handleConnection(conn)
	}
}

func (t *QUICTransport) handleConnection(conn *quic.Conn) {
	defer t.wg.Done()

	for {
		stream, err := conn.AcceptStream(t.ctx)
		if err != nil {
			return
		}

		t.wg.Add(1)
		go t.readLoop(stream)
	}
}

func (t *QUICTransport) readLoop(stream *quic.Stream) {
	defer t.wg.Done()
	defer stream.Close()

	for {
		msg, err := readMessage(stream, t.codec)
		if err != nil {
			if err != io.EOF {
				select {
				case <-t.ctx.Done():
				default:
					t.logger.Debug("read message error", "nodeId", t.nodeId, "error", err)
				}
			}
			return
		}

		select {
		case t.msgCh <- msg:
		case <-t.ctx.Done():
			return
		}
	}
}

// Broadcast sends msg to every connected peer. Unreachable peers are
// skipped silently; broadcast proceeds to the remaining peers.
func (t *QUICTransport) Broadcast(ctx context.Context, msg core.Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.outMu.RLock()
	defer t.outMu.RUnlock()

	for id, ps := range t.outPeers {
		if err := t.write(ps, msg); err != nil {
			t.logger.Debug("skipping unreachable peer", "nodeId", t.nodeId, "peer", id, "error", err)
		}
	}
	return nil
}

// Send sends msg to a single peer, fire-and-forget.
func (t *QUICTransport) Send(ctx context.Context, nodeId core.NodeId, msg core.Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.outMu.RLock()
	ps, ok := t.outPeers[nodeId]
	t.outMu.RUnlock()

	if !ok {
		return fmt.Errorf("no QUIC connection to %s", nodeId)
	}

	if err := t.write(ps, msg); err != nil {
		t.logger.Debug("skipping unreachable peer", "nodeId", t.nodeId, "peer", nodeId, "error", err)
	}
	return nil
}

// Subscribe returns the channel delivering inbound peer messages.
func (t *QUICTransport) Subscribe() <-chan core.Message {
	return t.msgCh
}

// WaitForReady blocks until all outgoing peer connections are established.
func (t *QUICTransport) WaitForReady() {
	<-t.readyCh
}

// Close shuts down the transport, closing all connections and the listener.
func (t *QUICTransport) Close() error {
	t.cancel()

	if t.listener != nil {
		t.listener.Close()
	}

	t.inMu.Lock()
	for _, conn := range t.inConns {
		conn.CloseWithError(0, "transport closing")
	}
	t.inMu.Unlock()

	t.outMu.Lock()
	for _, ps := range t.outPeers {
		ps.conn.CloseWithError(0, "transport closing")
	}
	t.outMu.Unlock()

	t.wg.Wait()

	if t.quicTr != nil {
		return t.quicTr.Close()
	}
	return nil
}

func (t *QUICTransport) write(ps *peerStream, msg core.Message) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return writeMessage(ps.stream, t.codec, msg)
}

// writeMessage writes a length-prefixed, codec-encoded message.
func writeMessage(w io.Writer, codec Codec, msg core.Message) error {
	data, err := codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

// readMessage reads a length-prefixed, codec-encoded message.
func readMessage(r io.Reader, codec Codec) (core.Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	return codec.Unmarshal(data)
}
