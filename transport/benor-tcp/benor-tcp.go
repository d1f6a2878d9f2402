package benortcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/usernamenenad/benor-quic/core"
)

// Codec serializes and deserializes messages for transport over the wire.
type Codec interface {
	Marshal(msg core.Message) ([]byte, error)
	Unmarshal(data []byte) (core.Message, error)
}

// peerConn wraps a connection with a mutex for thread-safe writing.
type peerConn struct {
	conn net.Conn
	mu   sync.Mutex
}

// TCPTransport implements core.Transport over a full mesh of TCP
// connections. Each node listens for incoming connections and maintains one
// outgoing connection per peer. Messages are framed with a 4-byte
// big-endian length prefix followed by the codec-encoded payload.
//
// Broadcast is fire-and-forget: a peer that cannot be written to is
// skipped, its failure logged at debug level and otherwise swallowed.
type TCPTransport struct {
	nodeId core.NodeId
	addr   string
	codec  Codec

	listener net.Listener

	peers    map[core.NodeId]string
	outPeers map[core.NodeId]*peerConn
	outMu    sync.RWMutex

	inConns []net.Conn
	inMu    sync.Mutex

	msgCh   chan core.Message
	readyCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// NewTCPTransport creates a TCP transport listening on listenAddr. Use ":0"
// to let the OS assign a random port, then Addr() to discover it. Call
// Connect to establish outgoing connections to peers.
func NewTCPTransport(
	nodeId core.NodeId,
	listenAddr string,
	codec Codec,
	logger *slog.Logger,
) (*TCPTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	t := &TCPTransport{
		nodeId:   nodeId,
		addr:     listener.Addr().String(),
		codec:    codec,
		listener: listener,
		outPeers: make(map[core.NodeId]*peerConn),
		msgCh:    make(chan core.Message, 256),
		readyCh:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}

	t.wg.Add(1)
	go t.acceptLoop()

	t.logger.Info("TCP transport listening", "nodeId", nodeId, "addr", t.addr)

	return t, nil
}

// Addr returns the actual listen address (useful when listening on ":0").
func (t *TCPTransport) Addr() string {
	return t.addr
}

// Connect starts establishing outgoing TCP connections to all peers.
// WaitForReady blocks until every connection is established.
func (t *TCPTransport) Connect(peers map[core.NodeId]string) {
	t.peers = peers
	if len(peers) == 0 {
		close(t.readyCh)
		return
	}
	t.wg.Add(1)
	go t.connectToPeers()
}

func (t *TCPTransport) connectToPeers() {
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
	t.logger.Info("all TCP peers connected", "nodeId", t.nodeId)
}

func (t *TCPTransport) connectWithRetry(peerId core.NodeId, peerAddr string) {
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", peerAddr, time.Second)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		t.outMu.Lock()
		t.outPeers[peerId] = &peerConn{conn: conn}
		t.outMu.Unlock()

		t.logger.Debug("connected to TCP peer", "nodeId", t.nodeId, "peer", peerId)
		return
	}
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.ctx.Done():
			default:
				t.logger.Error("TCP accept error", "error", err)
			}
			return
		}

		t.inMu.Lock()
		t.inConns = append(t.inConns, conn)
		t.inMu.Unlock()

		t.wg.Add(1)
		go t.readLoop(conn)
	}
}

func (t *TCPTransport) readLoop(conn net.Conn) {
	defer t.wg.Done()

	for {
		msg, err := readMessage(conn, t.codec)
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
func (t *TCPTransport) Broadcast(ctx context.Context, msg core.Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.outMu.RLock()
	defer t.outMu.RUnlock()

	for id, pc := range t.outPeers {
		if err := t.write(pc, msg); err != nil {
			t.logger.Debug("skipping unreachable peer", "nodeId", t.nodeId, "peer", id, "error", err)
		}
	}
	return nil
}

// Send sends msg to a single peer, fire-and-forget.
func (t *TCPTransport) Send(ctx context.Context, nodeId core.NodeId, msg core.Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.outMu.RLock()
	pc, ok := t.outPeers[nodeId]
	t.outMu.RUnlock()

	if !ok {
		return fmt.Errorf("no TCP connection to %s", nodeId)
	}

	if err := t.write(pc, msg); err != nil {
		t.logger.Debug("skipping unreachable peer", "nodeId", t.nodeId, "peer", nodeId, "error", err)
	}
	return nil
}

// Subscribe returns the channel delivering inbound peer messages.
func (t *TCPTransport) Subscribe() <-chan core.Message {
	return t.msgCh
}

// WaitForReady blocks until all outgoing peer connections are established.
func (t *TCPTransport) WaitForReady() {
	<-t.readyCh
}

// Close shuts down the transport, closing the listener and all connections.
func (t *TCPTransport) Close() error {
	t.cancel()

	if t.listener != nil {
		t.listener.Close()
	}

	t.inMu.Lock()
	for _, conn := range t.inConns {
		conn.Close()
	}
	t.inMu.Unlock()

	t.outMu.Lock()
	for _, pc := range t.outPeers {
		pc.conn.Close()
	}
	t.outMu.Unlock()

	t.wg.Wait()
	return nil
}

func (t *TCPTransport) write(pc *peerConn, msg core.Message) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return writeMessage(pc.conn, t.codec, msg)
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
