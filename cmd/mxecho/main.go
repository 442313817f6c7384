// Command mxecho is a tiny example backend: it answers every request of
// a configurable application message type with the request's own
// message bytes, demonstrating the public mx/backend surface end to end.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	mx "github.com/go-mx/mx"
	"github.com/go-mx/mx/backend"
	"github.com/go-mx/mx/wire"
)

func main() {
	address := flag.String("address", "127.0.0.1:4200", "Multiplexer server address")
	msgType := flag.Uint("type", 1000, "application message type to answer")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	b := backend.New(mx.DefaultConfig, wire.AllTypes, backend.WithLogger(log))
	defer b.Close()

	b.HandleFunc(wire.MessageType(*msgType), func(_ context.Context, req *wire.Envelope, reply *backend.ReplyWriter) error { //nolint:revive
		return reply.Reply(req.Type, req.Message)
	})

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := b.Connect(dialCtx, *address, 2*time.Second); err != nil {
		log.Fatal("connect failed", zap.Error(err))
	}

	log.Info("mxecho serving", zap.String("address", *address), zap.Uint("type", *msgType))
	if err := b.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Error("serve exited", zap.Error(err))
	}
}
