// Command relay-server-go runs the collaboration relay for browser E2E tests.
//
// It listens on BIND_HOST:PORT (default 127.0.0.1 and an ephemeral port),
// accepts dev tokens, keeps awareness node-local and prints "READY <port>"
// once it is serving.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/docs"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/hub"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/signaling"
)

func main() {
	bindHost := envOrDefault("BIND_HOST", "127.0.0.1")
	port := envIntOrDefault("PORT", 0)

	verifier, err := auth.NewVerifier(auth.Config{AllowDevTokens: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure auth: %v\n", err)
		os.Exit(2)
	}

	listenAddr := net.JoinHostPort(bindHost, strconv.Itoa(port))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen %s: %v\n", listenAddr, err)
		os.Exit(1)
	}

	topics := hub.NewTopicRouter(nil, nil)
	rooms := hub.NewRoomManager(nil, nil, nil)
	sig := signaling.NewServer(signaling.Config{
		Verifier:   verifier,
		Registry:   hub.NewRegistry(),
		Dispatcher: hub.NewDispatcher(topics, rooms, nil, nil),
		Documents:  docs.NewRegistry(docs.Hooks{}, nil, nil),
	})

	mux := http.NewServeMux()
	sig.RegisterRoutes(mux)
	mux.HandleFunc("GET /webrtc/ice", func(w http.ResponseWriter, r *http.Request) {
		// Permissive for local E2E tests.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"iceServers":[]}`))
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	actualPort := ln.Addr().(*net.TCPAddr).Port
	fmt.Printf("READY %d\n", actualPort)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sig.Shutdown(shutdownCtx)
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "http server error: %v\n", err)
			os.Exit(1)
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s=%q\n", key, v)
		os.Exit(2)
	}
	return n
}
