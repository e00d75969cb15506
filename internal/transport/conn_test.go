package transport

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		l.Close()
	})
	return l
}

func TestSendInOrder(t *testing.T) {
	l := listen(t)
	received := make(chan []string, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			received <- nil
			return
		}
		defer conn.Close()
		var lines []string
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		received <- lines
	}()

	c, err := Dial(context.Background(), zaptest.NewLogger(t), l.Addr().String())
	require.NoError(t, err)
	require.NoError(t, c.Send([]byte("CroixP\n")))
	require.NoError(t, c.Send([]byte("JGX:0.42\n")))
	require.NoError(t, c.Send([]byte("CroixR\n")))
	require.NoError(t, c.Close())

	select {
	case lines := <-received:
		assert.Equal(t, []string{"CroixP", "JGX:0.42", "CroixR"}, lines)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not finish")
	}
}

func TestSendAfterClose(t *testing.T) {
	l := listen(t)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	c, err := Dial(context.Background(), zaptest.NewLogger(t), l.Addr().String())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err = c.Send([]byte("CroixP\n"))
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSendToResetPeer(t *testing.T) {
	l := listen(t)
	accepted := make(chan struct{})
	go func() {
		conn, err := l.Accept()
		if err == nil {
			conn.Close()
		}
		close(accepted)
	}()

	c, err := Dial(context.Background(), zaptest.NewLogger(t), l.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	<-accepted

	// the first writes may still be buffered locally; a reset peer fails eventually
	assert.Eventually(t, func() bool {
		return c.Send([]byte("JGX:0.42\n")) != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, c.Send([]byte("JGX:0.42\n")), ErrTransport)
}

func TestDialFailure(t *testing.T) {
	l := listen(t)
	addr := l.Addr().String()
	l.Close()

	_, err := Dial(context.Background(), zaptest.NewLogger(t), addr, WithDialTimeout(time.Second))
	assert.ErrorIs(t, err, ErrTransport)
}

func TestPing(t *testing.T) {
	l := listen(t)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil || line != PingMessage {
			return
		}
		conn.Write([]byte("Hello from ESP32\r\n"))
	}()

	reply, err := Ping(context.Background(), l.Addr().String(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Hello from ESP32", reply)
}

func TestPingTimeout(t *testing.T) {
	l := listen(t)
	done := make(chan struct{})
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		<-done
		conn.Close()
	}()
	defer close(done)

	_, err := Ping(context.Background(), l.Addr().String(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTransport)
}
