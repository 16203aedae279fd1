package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/torqlabs/rtlink"
	"github.com/torqlabs/rtlink/config"
)

// A version string that can be set with
//
//	-ldflags "-X main.Build=SOMEVERSION"
//
// at compile-time.
var Build string

func init() {
	if Build == "" {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}

		Build = strings.TrimPrefix(info.Main.Version, "v")
	}
}

type listenerConfig struct {
	port       int
	recvBuffer int
}

func main() {
	configPath := flag.String("config", "", "Path to either a file or directory to load configuration from")
	configTest := flag.Bool("test", false, "Test the config and exit. Non zero exit indicates a faulty config")
	printVersion := flag.Bool("version", false, "Print version")
	printUsage := flag.Bool("help", false, "Print command line usage")

	flag.Parse()

	if *printVersion {
		fmt.Printf("Version: %s\n", Build)
		os.Exit(0)
	}

	if *printUsage {
		flag.Usage()
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("-config flag must be set")
		flag.Usage()
		os.Exit(1)
	}

	l := logrus.New()
	l.Out = os.Stdout

	c := config.NewC(l)
	if err := c.Load(*configPath); err != nil {
		fmt.Printf("failed to load config: %s", err)
		os.Exit(1)
	}

	if err := rtlink.ConfigureLogger(l, c); err != nil {
		fmt.Printf("failed to configure logging: %s", err)
		os.Exit(1)
	}

	listeners, err := parseListeners(c)
	if err != nil {
		l.WithError(err).Error("Invalid listeners config")
		os.Exit(1)
	}

	if *configTest {
		os.Exit(0)
	}

	engine := rtlink.NewEngine(l)
	if err := engine.Start(); err != nil {
		l.WithError(err).Fatal("Failed to start engine")
	}

	servers := make([]*rtlink.Server, 0, len(listeners))
	for _, lc := range listeners {
		srv, err := rtlink.NewServer(engine, lc.port, lc.recvBuffer, l)
		if err != nil {
			l.WithError(err).WithField("port", lc.port).Fatal("Failed to create server")
		}
		startEcho(l, srv)
		if err := srv.StartListen(); err != nil {
			l.WithError(err).WithField("port", srv.Port()).Fatal("Failed to start listening")
		}
		servers = append(servers, srv)
	}

	shutdownBlock(l)

	for _, srv := range servers {
		_ = srv.Close()
	}
	if err := engine.Stop(); err != nil {
		l.WithError(err).Error("Engine stop failed")
	}
	l.Info("Goodbye")

	os.Exit(0)
}

// parseListeners reads the listeners section: a list of maps with a required
// port and an optional recv_buffer (bytes, default 4096).
func parseListeners(c *config.C) ([]listenerConfig, error) {
	raw := c.Get("listeners")
	if raw == nil {
		return nil, fmt.Errorf("at least one listener must be configured")
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("listeners must be a list")
	}

	out := make([]listenerConfig, 0, len(list))
	for i, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("listeners.%d must be a map", i)
		}

		port, err := entryInt(m, "port", -1)
		if err != nil || port < 0 || port > 65535 {
			return nil, fmt.Errorf("listeners.%d.port is missing or invalid", i)
		}

		recvBuffer, err := entryInt(m, "recv_buffer", 4096)
		if err != nil || recvBuffer <= 0 {
			return nil, fmt.Errorf("listeners.%d.recv_buffer is invalid", i)
		}

		out = append(out, listenerConfig{port: port, recvBuffer: recvBuffer})
	}

	return out, nil
}

func entryInt(m map[string]any, k string, d int) (int, error) {
	v, ok := m[k]
	if !ok {
		return d, nil
	}
	return strconv.Atoi(fmt.Sprintf("%v", v))
}

// startEcho wires a demo handler: received bytes are copied off the engine
// thread and written back by a dedicated goroutine, Write blocks and must
// not run inside the receive callback.
func startEcho(l *logrus.Logger, srv *rtlink.Server) {
	out := make(chan []byte, 64)

	srv.SetReceiveCallback(func(b []byte) {
		buf := make([]byte, len(b))
		copy(buf, b)
		select {
		case out <- buf:
		default:
			l.WithField("port", srv.Port()).Warn("Echo backlog full, dropping chunk")
		}
	})

	go func() {
		for b := range out {
			if _, err := srv.Write(b); err != nil {
				l.WithError(err).WithField("port", srv.Port()).Debug("Echo write failed")
			}
		}
	}()
}

// shutdownBlock waits for a term or interrupt signal.
func shutdownBlock(l *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)

	rawSig := <-sigChan
	l.WithField("signal", rawSig.String()).Info("Caught signal, shutting down")
}
