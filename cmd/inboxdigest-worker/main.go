// Command inboxdigest-worker hosts the language model and the key-point
// database in its own process, answering the coordinator over NATS.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/nhle/inboxdigest/internal/audit"
	"github.com/nhle/inboxdigest/internal/bus"
	"github.com/nhle/inboxdigest/internal/model"
	"github.com/nhle/inboxdigest/internal/nlp"
	"github.com/nhle/inboxdigest/internal/worker"
)

func main() {
	natsURL := flag.String("nats", envOrDefault("INBOXDIGEST_NATS_URL", nats.DefaultURL), "NATS server URL")
	prefix := flag.String("prefix", "inboxdigest", "bus subject prefix")
	dbPath := flag.String("db", filepath.Join(model.ConfigDir(), "keypoints.db"), "key-point database path")
	auditCap := flag.Int("audit", audit.DefaultCapacity, "audit log capacity")
	flag.Parse()

	log.SetPrefix("[worker] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(*natsURL, nats.Name("inboxdigest-worker"))
	if err != nil {
		log.Fatalf("connecting to nats at %s: %v", *natsURL, err)
	}
	defer nc.Close()

	t, err := bus.NewNATSTransport(nc, *prefix)
	if err != nil {
		log.Fatalf("building transport: %v", err)
	}

	engine := nlp.New()
	go func() {
		if err := engine.Warm(); err != nil {
			log.Printf("warming language model: %v", err)
		}
	}()

	w := worker.New(*dbPath, engine, audit.New(*auditCap))
	unlisten, err := worker.Serve(t, w)
	if err != nil {
		log.Fatalf("serving: %v", err)
	}
	log.Printf("listening on %s", t.Subject(bus.ActorWorker))

	<-ctx.Done()
	unlisten()
	if err := w.Close(); err != nil {
		log.Printf("closing database: %v", err)
	}
}

func envOrDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
