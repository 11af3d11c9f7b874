package main

import (
	"log"
	"os"

	"github.com/urfave/cli"

	"github.com/rigado/l2cap"
)

func main() {
	app := cli.NewApp()
	app.Name = "l2capd"
	app.Usage = "L2CAP channel layer over HCI"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "verbose, v", Usage: "log everything"},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("verbose") {
			l2cap.SetLogLevelMax()
		}
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:  "loopback",
			Usage: "open a channel between two in-memory stacks and echo through it",
			Flags: []cli.Flag{
				cli.UintFlag{Name: "psm", Value: 0x1001, Usage: "service psm"},
				cli.UintFlag{Name: "mtu", Value: 672, Usage: "incoming mtu of both ends"},
				cli.IntFlag{Name: "count", Value: 16, Usage: "pdus to echo"},
				cli.IntFlag{Name: "slots", Value: 4, Usage: "packets in flight per link"},
				cli.UintFlag{Name: "credits", Value: 8, Usage: "max credits per channel"},
				cli.BoolFlag{Name: "dump", Usage: "print both stacks as json before closing"},
			},
			Action: cmdLoopback,
		},
		{
			Name:  "serve",
			Usage: "run echo services on a controller",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config, c", Usage: "json config file"},
				cli.StringFlag{Name: "uart", Usage: "h4 uart device, e.g. /dev/ttyUSB0"},
				cli.UintFlag{Name: "baud", Value: 1000000, Usage: "uart baud rate"},
				cli.StringFlag{Name: "tcp", Usage: "h4 over tcp, host:port"},
				cli.IntFlag{Name: "hci", Value: -1, Usage: "hci user channel device index"},
				cli.StringFlag{Name: "metrics", Usage: "serve prometheus metrics on this address"},
			},
			Action: cmdServe,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
