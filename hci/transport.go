package hci

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
)

// OpenUART opens an H4 UART controller. Reads time out after 100ms and then
// return 0, nil.
func OpenUART(path string, baud uint) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:          path,
		BaudRate:          baud,
		DataBits:          8,
		StopBits:          1,
		RTSCTSFlowControl: true,

		// force these
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
	}

	sp, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %v", path)
	}

	// reset the controller and drop whatever it had queued
	if _, err := sp.Write(command(opReset)); err != nil {
		sp.Close()
		return nil, errors.Wrap(err, "can't reset controller")
	}
	<-time.After(250 * time.Millisecond)
	b := make([]byte, 2048)
	if _, err := sp.Read(b); err != nil && err != io.EOF {
		sp.Close()
		return nil, errors.Wrap(err, "can't flush controller")
	}

	return &uart{sp: sp, done: make(chan struct{})}, nil
}

type uart struct {
	sp   io.ReadWriteCloser
	wmu  sync.Mutex
	done chan struct{}
	cmu  sync.Mutex
}

func (u *uart) Read(p []byte) (int, error) {
	n, err := u.sp.Read(p)
	select {
	case <-u.done:
		return 0, io.EOF
	default:
	}
	// a tty read with VMIN 0 reports its timeout as EOF
	if n == 0 && err == io.EOF {
		return 0, nil
	}
	return n, errors.Wrap(err, "can't read uart")
}

func (u *uart) Write(p []byte) (int, error) {
	u.wmu.Lock()
	defer u.wmu.Unlock()
	n, err := u.sp.Write(p)
	return n, errors.Wrap(err, "can't write uart")
}

func (u *uart) Close() error {
	u.cmu.Lock()
	defer u.cmu.Unlock()

	select {
	case <-u.done:
		return nil
	default:
		close(u.done)
		return errors.Wrap(u.sp.Close(), "can't close uart")
	}
}

// OpenTCP connects to an H4 controller bridged over TCP, e.g. a simulator.
func OpenTCP(addr string, timeout time.Duration) (io.ReadWriteCloser, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "can't dial %v", addr)
	}
	return &connWithTimeout{c: c, timeout: timeout}, nil
}

type connWithTimeout struct {
	c       net.Conn
	timeout time.Duration
}

func (cwt *connWithTimeout) Read(b []byte) (int, error) {
	// with deadline
	cwt.c.SetReadDeadline(time.Now().Add(cwt.timeout))
	n, err := cwt.c.Read(b)
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return n, nil
	}
	return n, err
}

func (cwt *connWithTimeout) Write(b []byte) (int, error) {
	// with deadline
	cwt.c.SetWriteDeadline(time.Now().Add(cwt.timeout))
	return cwt.c.Write(b)
}

func (cwt *connWithTimeout) Close() error {
	return cwt.c.Close()
}
