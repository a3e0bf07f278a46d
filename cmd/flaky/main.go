// Package main provides a deliberately unreliable TCP endpoint for testing
// the dependency protection service. It accepts connections while "up" and
// stops listening while "down"; state can be toggled through a small HTTP
// control surface or flipped automatically at a fixed interval.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"
)

type flakyListener struct {
	mu   sync.Mutex
	addr string
	ln   net.Listener
	up   bool
}

func (f *flakyListener) Up() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.up {
		return nil
	}
	ln, err := net.Listen("tcp", f.addr)
	if err != nil {
		return err
	}
	f.ln = ln
	f.up = true
	go acceptLoop(ln)
	return nil
}

func (f *flakyListener) Down() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.up {
		return
	}
	f.ln.Close()
	f.ln = nil
	f.up = false
}

func (f *flakyListener) IsUp() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up
}

// acceptLoop answers each connection with a one-line banner and closes it.
// Dial-style probes only need the accept.
func acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("ok\n")) //nolint:errcheck
		conn.Close()
	}
}

func main() {
	port := flag.Int("port", 3001, "dependency port to listen on")
	controlPort := flag.Int("control-port", 3002, "HTTP control port")
	flap := flag.Duration("flap", 0, "automatically toggle up/down at this interval (0 to disable)")
	startDown := flag.Bool("start-down", false, "start in the down state")
	flag.Parse()

	if p := os.Getenv("PORT"); p != "" {
		fmt.Sscanf(p, "%d", port)
	}

	f := &flakyListener{addr: fmt.Sprintf(":%d", *port)}
	if !*startDown {
		if err := f.Up(); err != nil {
			log.Fatalf("listen on %s: %v", f.addr, err)
		}
	}

	if *flap > 0 {
		go func() {
			for range time.Tick(*flap) {
				if f.IsUp() {
					f.Down()
					log.Printf("flap: down")
				} else {
					if err := f.Up(); err != nil {
						log.Printf("flap: up failed: %v", err)
						continue
					}
					log.Printf("flap: up")
				}
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/__up", func(w http.ResponseWriter, r *http.Request) {
		if err := f.Up(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		log.Printf("control: up")
		writeStatus(w, f)
	})
	mux.HandleFunc("/__down", func(w http.ResponseWriter, r *http.Request) {
		f.Down()
		log.Printf("control: down")
		writeStatus(w, f)
	})
	mux.HandleFunc("/__status", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, f)
	})

	controlAddr := fmt.Sprintf(":%d", *controlPort)
	log.Printf("flaky dependency on %s (up=%v), control on %s", f.addr, f.IsUp(), controlAddr)
	log.Fatal(http.ListenAndServe(controlAddr, mux))
}

func writeStatus(w http.ResponseWriter, f *flakyListener) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"up":        f.IsUp(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
