// Command tunstack attaches a userspace TCP/IP stack to a Linux TUN
// device, brings it up with the fixed point-to-point addressing this
// stack ships with, and serves Prometheus metrics over HTTP.
package main

import (
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ctrlcdev/tunstack/demux"
	"github.com/ctrlcdev/tunstack/internal"
	"github.com/ctrlcdev/tunstack/metrics"
	"github.com/ctrlcdev/tunstack/socket"
	"github.com/ctrlcdev/tunstack/tcp"
	"github.com/ctrlcdev/tunstack/tunnel"
)

var (
	localAddr  = [4]byte{10, 0, 0, 2}
	remoteAddr = [4]byte{10, 0, 0, 1}
)

func main() {
	ifaceName := flag.String("iface", "tun0", "TUN interface name to create")
	metricsAddr := flag.String("metrics-addr", ":9273", "address to serve Prometheus metrics on")
	logLevel := flag.String("log-level", "info", "slog level: debug, info, warn, error")
	connectPort := flag.Uint("connect", 0, "if nonzero, actively open a connection to the remote peer on this port and pipe it to stdin/stdout")
	flag.Parse()

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(*logLevel)); err != nil {
		lvl = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	if err := run(*ifaceName, *metricsAddr, uint16(*connectPort), log); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ifaceName, metricsAddr string, connectPort uint16, log *slog.Logger) error {
	tun, err := tunnel.Open(ifaceName)
	if err != nil {
		return err
	}
	if err := tun.Configure("10.0.0.2/24", "10.0.0.1"); err != nil {
		return err
	}

	rng, err := internal.NewCSPRNG()
	if err != nil {
		return err
	}

	mcol := metrics.NewCollector([]string{"quad"}, prometheus.Labels{"iface": ifaceName})
	reg := prometheus.NewRegistry()
	reg.MustRegister(mcol)

	d := demux.New(tun, localAddr, rng, tcp.SystemClock{}, log, mcol)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		log.Info("serving metrics", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Error("metrics server exited", "err", err)
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run() }()

	if connectPort != 0 {
		go connectAndPipe(d, connectPort, log)
	}

	log.Info("demux starting", "iface", ifaceName, "local", localAddr, "remote", remoteAddr)
	return <-runErr
}

// connectAndPipe actively opens a connection to the fixed remote peer on
// connectPort, then pipes stdin to the connection and the connection to
// stdout until either side closes.
func connectAndPipe(d *demux.Demux, connectPort uint16, log *slog.Logger) {
	tcb, err := d.Connect(remoteAddr, connectPort)
	if err != nil {
		log.Error("connect failed", "port", connectPort, "err", err)
		return
	}
	log.Info("connected", "remote", remoteAddr, "port", connectPort)
	h := socket.New(tcb)

	go func() {
		if _, err := io.Copy(os.Stdout, readerFunc(h.Read)); err != nil {
			log.Error("connection read failed", "err", err)
		}
	}()
	if _, err := io.Copy(writerFunc(h.Write), os.Stdin); err != nil {
		log.Error("connection write failed", "err", err)
	}
	h.Close()
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
