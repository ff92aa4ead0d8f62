// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/nstream/wsmux"
	"github.com/nstream/wsmux/cmd/internal/config"
	"github.com/nstream/wsmux/forward"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "wstun-server"
	myApp.Usage = "TCP-to-WebSocket tunnel server"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{Name: "listen,l", Value: ":29900", Usage: "websocket listen address"},
		cli.StringFlag{Name: "path", Value: "/tunnel", Usage: "HTTP path the client upgrades on"},
		cli.IntFlag{Name: "streambuf", Value: 16384, Usage: "per-stream receive buffer size in bytes"},
		cli.IntFlag{Name: "framepayload", Value: 1 << 20, Usage: "maximum Push/Datagram frame payload in bytes"},
		cli.IntFlag{Name: "keepalive", Value: 30, Usage: "keep-alive ping interval in seconds, 0 to disable"},
		cli.IntFlag{Name: "listenerbacklog", Value: 1024, Usage: "bounded queue depth for inbound stream requests"},
		cli.BoolFlag{Name: "nocomp", Usage: "disable snappy compression of the carrier"},
		cli.BoolFlag{Name: "allowbind", Usage: "accept inbound Bind requests instead of resetting them"},
		cli.StringFlag{Name: "log", Value: "", Usage: "write log to this file instead of stderr"},
		cli.BoolFlag{Name: "quiet", Usage: "suppress per-connection logging"},
		cli.StringFlag{Name: "c", Value: "", Usage: "JSON config file overriding the flags above"},
	}
	myApp.Action = run

	if err := myApp.Run(os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(c *cli.Context) error {
	cfg := config.Config{
		LocalAddr:       c.String("listen"),
		WSPath:          c.String("path"),
		StreamBuf:       c.Int("streambuf"),
		FramePayload:    c.Int("framepayload"),
		KeepAlive:       c.Int("keepalive"),
		ListenerBacklog: c.Int("listenerbacklog"),
		NoComp:          c.Bool("nocomp"),
		AllowBind:       c.Bool("allowbind"),
		Log:             c.String("log"),
		Quiet:           c.Bool("quiet"),
	}
	if path := c.String("c"); path != "" {
		if err := config.ParseJSON(&cfg, path); err != nil {
			return errors.Wrap(err, "parseJSONConfig")
		}
	}

	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		defer f.Close()
		log.SetOutput(f)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WSPath, func(w http.ResponseWriter, r *http.Request) {
		serveUpgrade(w, r, cfg)
	})

	log.Println(color.GreenString("listening on %s%s", cfg.LocalAddr, cfg.WSPath))
	return http.ListenAndServe(cfg.LocalAddr, mux)
}

func serveUpgrade(w http.ResponseWriter, r *http.Request, cfg config.Config) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("upgrade:", err)
		return
	}

	var carrier wsmux.Carrier = wsmux.NewWebsocketCarrier(conn)
	if !cfg.NoComp {
		carrier = wsmux.NewCompressingCarrier(carrier)
	}

	muxCfg := wsmux.DefaultConfig()
	muxCfg.Role = wsmux.RoleServer
	muxCfg.AllowBind = cfg.AllowBind
	if cfg.StreamBuf > 0 {
		muxCfg.StreamBuffer = cfg.StreamBuf
	}
	if cfg.FramePayload > 0 {
		muxCfg.MaxFramePayload = cfg.FramePayload
	}
	if cfg.ListenerBacklog > 0 {
		muxCfg.ListenerBacklog = cfg.ListenerBacklog
	}
	muxCfg.KeepAliveInterval = time.Duration(cfg.KeepAlive) * time.Second

	sess, err := wsmux.NewSession(carrier, muxCfg)
	if err != nil {
		log.Println("new session:", err)
		conn.Close()
		return
	}

	l := sess.Listen()
	for {
		accepted, err := l.Accept()
		if err != nil {
			return
		}
		go handleAccepted(accepted, cfg.Quiet)
	}
}

func handleAccepted(a *wsmux.AcceptedStream, quiet bool) {
	logln := func(v ...any) {
		if !quiet {
			log.Println(v...)
		}
	}

	target := net.JoinHostPort(a.TargetHost.String(), strconv.Itoa(int(a.TargetPort)))
	conn, err := net.DialTimeout("tcp", target, 10*time.Second)
	if err != nil {
		logln("dial target:", target, err)
		a.Stream.Reset()
		return
	}
	defer conn.Close()
	defer a.Stream.Close()

	logln("stream accepted", "target:", target, "port:", a.Stream.LocalPort())
	defer logln("stream closed", "target:", target, "port:", a.Stream.LocalPort())

	targetToPeer, peerToTarget := forward.Pipe(conn, a.Stream)
	logln("relayed", targetToPeer.Bytes, "bytes to peer,", peerToTarget.Bytes, "bytes to target")
	if targetToPeer.Err != nil {
		logln("pipe: target", target, "-> peer:", targetToPeer.Err)
	}
	if peerToTarget.Err != nil {
		logln("pipe: peer -> target", target, ":", peerToTarget.Err)
	}
}
