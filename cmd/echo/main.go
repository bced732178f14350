// Command echo is a demonstration transport around the tlspump adapter: a
// TCP echo server authenticating with a certificate bundle, and a client
// that sends one line and prints the echo. All socket I/O happens here; the
// adapter only transforms bytes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/m-lab/go/rtx"

	"tlspump"
	"tlspump/config"
	"tlspump/engine"
	"tlspump/internal/logging"
	"tlspump/keystore"
)

func main() {
	var (
		mode     string
		cfgPath  string
		addr     string
		message  string
		generate string
	)
	flag.StringVar(&mode, "mode", "server", "server or client")
	flag.StringVar(&cfgPath, "config", "config.json", "Path to configuration file (or '-' for stdin)")
	flag.StringVar(&addr, "addr", "127.0.0.1:4433", "Address to listen on or connect to")
	flag.StringVar(&message, "message", "hello over the pump", "Line the client sends")
	flag.StringVar(&generate, "generate", "", "Write a fresh self-signed bundle for this host name and exit")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	rtx.Must(err, "cannot load %s", cfgPath)
	logger := logging.New(logging.ParseLevel(cfg.NormalisedLevel()), cfg.Logging.Format, os.Stdout)

	if generate != "" {
		cred, err := keystore.Generate(generate)
		rtx.Must(err, "cannot generate credential")
		rtx.Must(cred.Save(cfg.CertificateBundle, cfg.BundlePassword), "cannot write %s", cfg.CertificateBundle)
		logger.WithField("bundle", cfg.CertificateBundle).Info("bundle written")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "server":
		rtx.Must(runServer(ctx, cfg, addr, logger), "server failed")
	case "client":
		rtx.Must(runClient(cfg, addr, message, logger), "client failed")
	default:
		rtx.Must(fmt.Errorf("unknown mode %q", mode), "bad -mode")
	}
}

func runServer(ctx context.Context, cfg *config.Config, addr string, logger log.Interface) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	logger.WithField("addr", addr).Info("listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			connLogger := logger.WithField("peer", conn.RemoteAddr().String())
			if err := serveConn(cfg, conn, connLogger); err != nil {
				connLogger.WithError(err).Warn("connection ended")
			}
		}()
	}
}

// serveConn echoes every decrypted line back to the peer until it closes.
func serveConn(cfg *config.Config, conn net.Conn, logger log.Interface) error {
	defer conn.Close()
	adapter, err := tlspump.NewServer(cfg, logger)
	if err != nil {
		return err
	}

	chunk := make([]byte, 16*1024)
	for {
		n, readErr := conn.Read(chunk)
		if n > 0 {
			adapter.Inject(chunk[:n])
		}
		plain, err := pumpIn(adapter, conn)
		if errors.Is(err, tlspump.ErrSessionClosed) {
			adapter.Close()
			flush(adapter, conn)
			return nil
		}
		if err != nil {
			return err
		}
		if len(plain) > 0 {
			logger.WithField("bytes", len(plain)).Debug("echoing")
			adapter.Write(plain)
			if err := flush(adapter, conn); err != nil {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

func runClient(cfg *config.Config, addr, message string, logger log.Interface) error {
	eng, err := engine.NewClient(engine.Options{Protocols: cfg.Protocols()})
	if err != nil {
		return err
	}
	adapter := tlspump.New(eng, logger)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Staging a write before any record has flowed makes the first Extract
	// open the handshake.
	adapter.Write([]byte(message))
	if err := flush(adapter, conn); err != nil {
		return err
	}

	chunk := make([]byte, 16*1024)
	var echo []byte
	for len(echo) < len(message) {
		n, readErr := conn.Read(chunk)
		if n > 0 {
			adapter.Inject(chunk[:n])
		}
		plain, err := pumpIn(adapter, conn)
		if err != nil {
			return err
		}
		echo = append(echo, plain...)
		if readErr != nil {
			return readErr
		}
	}
	fmt.Println(string(echo))

	adapter.Close()
	return flush(adapter, conn)
}

// pumpIn decrypts everything injected so far, sending any handshake flights
// the engine produced along the way.
func pumpIn(adapter *tlspump.Adapter, conn net.Conn) ([]byte, error) {
	var plain []byte
	for {
		p, err := adapter.Read()
		if flushErr := flush(adapter, conn); flushErr != nil {
			return plain, flushErr
		}
		if err != nil {
			return plain, err
		}
		if p == nil {
			return plain, nil
		}
		plain = append(plain, p...)
	}
}

// flush drains every pending outbound record onto the socket.
func flush(adapter *tlspump.Adapter, conn net.Conn) error {
	for {
		record, err := adapter.Extract()
		if err != nil && !errors.Is(err, tlspump.ErrSessionClosed) {
			return err
		}
		if record == nil {
			return nil
		}
		if _, err := conn.Write(record); err != nil {
			return err
		}
	}
}
