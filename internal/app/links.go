// Package app contains the top-level orchestration for the device and
// controller roles.
package app

import (
	"context"
	"fmt"
	"net"

	"github.com/1ureka/ctlmux/internal/util"
)

// acceptDirect listens on tcpAddr, waits for exactly one controller
// connection, and binds the datagram socket on udpAddr. Cancelling ctx while
// waiting aborts with ctx.Err().
func acceptDirect(ctx context.Context, tcpAddr, udpAddr string) (net.Conn, *net.UDPConn, error) {
	uaddr, err := net.ResolveUDPAddr("udp", udpAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve %s: %w", udpAddr, err)
	}
	udp, err := net.ListenUDP("udp", uaddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on udp %s: %w", udpAddr, err)
	}

	listener, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		udp.Close()
		return nil, nil, fmt.Errorf("failed to listen on tcp %s: %w", tcpAddr, err)
	}
	defer listener.Close()

	// Close the listener when context is done so Accept() returns an error.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			listener.Close()
		case <-stop:
		}
	}()

	util.LogInfo("waiting for controller on tcp %s, datagrams on udp %s", listener.Addr(), udp.LocalAddr())

	conn, err := listener.Accept()
	if err != nil {
		udp.Close()
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("accept error: %w", err)
	}

	util.LogInfo("controller connected from %s", conn.RemoteAddr())
	return conn, udp, nil
}

// dialDirect connects the controller's stream and datagram sockets.
func dialDirect(ctx context.Context, tcpAddr, udpAddr string) (net.Conn, *net.UDPConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", tcpAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial tcp %s: %w", tcpAddr, err)
	}

	uaddr, err := net.ResolveUDPAddr("udp", udpAddr)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("resolve %s: %w", udpAddr, err)
	}
	udp, err := net.DialUDP("udp", nil, uaddr)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("dial udp %s: %w", udpAddr, err)
	}
	return conn, udp, nil
}
