package yellowblocks_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/casper-tapcp/tapcpctl/tapcp"
	"github.com/casper-tapcp/tapcpctl/tftp"
)

// mockBoard is a small in-process UDP server speaking TFTP well enough to
// exercise a peripheral's register reads and writes: RRQ serves a
// registered file's bytes, WRQ accumulates written bytes. This duplicates
// tapcp's unexported test harness (tapcp_test.go) since that one isn't
// importable from here.
type mockBoard struct {
	conn *net.UDPConn

	mu       sync.Mutex
	files    map[string][]byte
	written  map[string][]byte
	writeLog []writeEvent

	stop    chan struct{}
	stopped chan struct{}
}

// writeEvent records one completed WRQ transfer, in arrival order, so
// tests exercising multiple writes to the same path (e.g. a 3-wire
// bit-banged register) can inspect the whole sequence rather than just
// the last write.
type writeEvent struct {
	path string
	data []byte
}

func newMockBoard(t *testing.T) *mockBoard {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	mb := &mockBoard{
		conn:    conn,
		files:   make(map[string][]byte),
		written: make(map[string][]byte),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go mb.serve()
	return mb
}

func (mb *mockBoard) setFile(path string, data []byte) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.files[path] = data
}

func (mb *mockBoard) writtenTo(path string) []byte {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return append([]byte(nil), mb.written[path]...)
}

// writesTo returns every completed write to path, in arrival order. Each
// tapcp write (WriteBytes call) opens its own WRQ transfer, so a sequence
// of small register writes to the same path overwrite mb.written in
// turn; writesTo recovers the full sequence for protocol-level tests.
func (mb *mockBoard) writesTo(path string) [][]byte {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	var out [][]byte
	for _, ev := range mb.writeLog {
		if ev.path == path {
			out = append(out, append([]byte(nil), ev.data...))
		}
	}
	return out
}

type transfer struct {
	data    []byte
	block   uint16
	writing bool
	path    string
	done    bool // RRQ: the final (short) DATA block has been sent
}

func (mb *mockBoard) serve() {
	defer close(mb.stopped)
	buf := make([]byte, 2048)
	sessions := make(map[string]*transfer)

	for {
		mb.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, addr, err := mb.conn.ReadFromUDP(buf)
		select {
		case <-mb.stop:
			return
		default:
		}
		if err != nil {
			continue
		}
		pkt, err := tftp.Parse(buf[:n])
		if err != nil {
			continue
		}
		key := addr.String()

		switch pkt.Op {
		case tftp.OpRead:
			mb.mu.Lock()
			data := mb.files[pkt.Filename]
			mb.mu.Unlock()
			sess := &transfer{data: data, block: 1, path: pkt.Filename}
			sessions[key] = sess
			sendNextChunk(mb.conn, addr, sess)

		case tftp.OpWrite:
			sessions[key] = &transfer{writing: true, block: 0, path: pkt.Filename}
			mb.conn.WriteToUDP(tftp.AckPacket(0).Pack(), addr)

		case tftp.OpAck:
			sess, ok := sessions[key]
			if !ok || sess.writing || sess.done {
				continue
			}
			if pkt.Block != sess.block {
				continue
			}
			sess.block++
			sendNextChunk(mb.conn, addr, sess)

		case tftp.OpData:
			sess, ok := sessions[key]
			if !ok || !sess.writing {
				continue
			}
			if pkt.Block != sess.block+1 {
				continue
			}
			sess.block = pkt.Block
			sess.data = append(sess.data, pkt.Data...)
			mb.conn.WriteToUDP(tftp.AckPacket(pkt.Block).Pack(), addr)
			mb.mu.Lock()
			mb.written[sess.path] = sess.data
			if len(pkt.Data) < tftp.MaxDataSize {
				mb.writeLog = append(mb.writeLog, writeEvent{path: sess.path, data: append([]byte(nil), sess.data...)})
			}
			mb.mu.Unlock()
		}
	}
}

func sendNextChunk(conn *net.UDPConn, addr *net.UDPAddr, sess *transfer) {
	chunkLen := tftp.MaxDataSize
	if chunkLen > len(sess.data) {
		chunkLen = len(sess.data)
	}
	chunk := sess.data[:chunkLen]
	sess.data = sess.data[chunkLen:]
	sess.done = chunkLen < tftp.MaxDataSize
	conn.WriteToUDP(tftp.DataPacket(sess.block, chunk).Pack(), addr)
}

func (mb *mockBoard) addr() *net.UDPAddr { return mb.conn.LocalAddr().(*net.UDPAddr) }

func (mb *mockBoard) close() {
	close(mb.stop)
	mb.conn.Close()
	<-mb.stopped
}

func connectTo(t *testing.T, board *mockBoard) *tapcp.Transport {
	t.Helper()
	tr, err := tapcp.Connect(context.Background(), tapcp.Config{Address: board.addr().String(), Platform: tapcp.SNAP})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}
