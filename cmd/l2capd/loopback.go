package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/rigado/l2cap"
	"github.com/rigado/l2cap/core"
	"github.com/rigado/l2cap/hci"
)

const stepTimeout = 2 * time.Second

var (
	serverAddr = l2cap.NewAddr("00:00:00:00:00:01")
	clientAddr = l2cap.NewAddr("00:00:00:00:00:02")
)

// client turns the events of one outgoing channel into channel sends.
type client struct {
	l2cap.NopHandler
	opened  chan l2cap.ChannelOpenedEvent
	data    chan []byte
	credits chan struct{}
	closed  chan l2cap.ChannelClosedEvent
}

func newClient() *client {
	return &client{
		opened:  make(chan l2cap.ChannelOpenedEvent, 1),
		data:    make(chan []byte, 64),
		credits: make(chan struct{}, 1),
		closed:  make(chan l2cap.ChannelClosedEvent, 1),
	}
}

func (c *client) ChannelOpened(owner interface{}, ev l2cap.ChannelOpenedEvent) { c.opened <- ev }
func (c *client) DataReceived(owner interface{}, cid uint16, data []byte)       { c.data <- data }
func (c *client) ChannelClosed(owner interface{}, ev l2cap.ChannelClosedEvent)  { c.closed <- ev }

func (c *client) CreditsGranted(owner interface{}, cid uint16, n uint16) {
	select {
	case c.credits <- struct{}{}:
	default:
	}
}

func cmdLoopback(c *cli.Context) error {
	psm, mtu := uint16(c.Uint("psm")), uint16(c.Uint("mtu"))
	count := c.Int("count")

	reg := prometheus.NewRegistry()
	la, lb := hci.NewLoopbackPair(serverAddr, clientAddr, c.Int("slots"))
	newStack := func(lnk core.Link, side string) (*core.Stack, error) {
		return core.New(lnk,
			l2cap.OptMaxCredits(uint16(c.Uint("credits"))),
			l2cap.OptMetrics(prometheus.WrapRegistererWith(prometheus.Labels{"side": side}, reg)),
		)
	}
	server, err := newStack(la, "server")
	if err != nil {
		return err
	}
	cs, err := newStack(lb, "client")
	if err != nil {
		return err
	}
	la.SetUpper(server)
	lb.SetUpper(cs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return la.Run(gctx) })
	g.Go(func() error { return lb.Run(gctx) })

	err = runEcho(server, cs, psm, mtu, count, c.Bool("dump"))
	cancel()
	if werr := g.Wait(); werr != nil && werr != context.Canceled {
		return werr
	}
	return err
}

func runEcho(server, cs *core.Stack, psm, mtu uint16, count int, dump bool) error {
	if err := server.RegisterService("echo", newEchoService(server), psm, mtu); err != nil {
		return err
	}

	cl := newClient()
	cid, err := cs.CreateChannel("loopback", cl, serverAddr, psm, mtu)
	if err != nil {
		return err
	}

	select {
	case ev := <-cl.opened:
		if ev.Result != 0 {
			return errors.Errorf("open failed: result 0x%04x", ev.Result)
		}
		fmt.Printf("cid 0x%04x open to %v, remote cid 0x%04x, mtu %v/%v\n", ev.LocalCID, ev.Addr, ev.RemoteCID, ev.LocalMTU, ev.RemoteMTU)
	case <-time.After(stepTimeout):
		return errors.New("timed out opening channel")
	}

	start := time.Now()
	for i := 0; i < count; i++ {
		msg := []byte(fmt.Sprintf("echo %d", i))
		for {
			err := cs.Send(cid, msg)
			if err == nil {
				break
			}
			if !errors.Is(err, l2cap.ErrWouldBlock) {
				return err
			}
			select {
			case <-cl.credits:
			case <-time.After(stepTimeout):
				return errors.New("timed out waiting for credits")
			}
		}

		select {
		case b := <-cl.data:
			if string(b) != string(msg) {
				return errors.Errorf("echo %d: got %q", i, b)
			}
		case <-time.After(stepTimeout):
			return errors.Errorf("timed out waiting for echo %d", i)
		}
	}
	fmt.Printf("%d pdus echoed in %v\n", count, time.Since(start))

	if dump {
		b, err := json.MarshalIndent(map[string]core.Snapshot{
			"server": server.Snapshot(),
			"client": cs.Snapshot(),
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s\n", b)
	}

	if err := cs.Disconnect(cid, 0); err != nil {
		return err
	}
	select {
	case ev := <-cl.closed:
		if err := ev.Reason.Err(); err != nil {
			return errors.Wrapf(err, "cid 0x%04x", ev.LocalCID)
		}
		fmt.Printf("cid 0x%04x closed (%v)\n", ev.LocalCID, ev.Reason)
	case <-time.After(stepTimeout):
		return errors.New("timed out closing channel")
	}
	return nil
}
