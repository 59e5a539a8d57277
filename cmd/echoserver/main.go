// Command echoserver runs a minimal simplenet server: it echoes every Msg
// back to its sender and answers every Request with a Response carrying the
// request's own payload.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/whisper/simplenet/factory"
	"github.com/whisper/simplenet/simplenetserver"
)

func main() {
	cfg := simplenetserver.DefaultConfig("1.0.0")

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxConnections = n
		}
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("KEEPALIVE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.KeepaliveTimeout = d
		}
	}

	sf := factory.NewServerFactory("1.0.0")
	server, err := sf.NewServer(cfg)
	if err != nil {
		log.Fatalf("echoserver: building server: %v", err)
	}

	go func() {
		for {
			e, ok := server.Next()
			if !ok {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			switch e.Kind {
			case simplenetserver.EventConnected:
				log.Printf("echoserver: session %s connected", e.SessionID)
			case simplenetserver.EventDisconnected:
				log.Printf("echoserver: session %s disconnected", e.SessionID)
			case simplenetserver.EventMsg:
				if err := server.Send(e.SessionID, e.Payload); err != nil {
					log.Printf("echoserver: echo to %s failed: %v", e.SessionID, err)
				}
			case simplenetserver.EventRequest:
				if err := e.Token.Respond(e.Payload); err != nil {
					log.Printf("echoserver: respond to %s failed: %v", e.SessionID, err)
				}
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("echoserver: received signal %v, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("echoserver: shutdown error: %v", err)
		}
		os.Exit(0)
	}()

	log.Printf("echoserver: listening on %s", cfg.ListenAddr)
	if err := server.Start(); err != nil {
		log.Fatalf("echoserver: %v", err)
	}
}
