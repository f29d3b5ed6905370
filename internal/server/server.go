package server

import (
	"fmt"
	"net/http"
	"time"

	"wisun2web/internal/config"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	_ "github.com/joho/godotenv/autoload"
)

type Server struct {
	port        uint
	httpLog     bool
	mockMode    bool
	rootContext *actor.RootContext
	masterActor *actor.PID
	eventStream *eventstream.EventStream
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, eventStream *eventstream.EventStream) *http.Server {
	NewServer := &Server{
		port:        cfg.Port,
		rootContext: rootContext,
		masterActor: masterActor,
		eventStream: eventStream,
		httpLog:     cfg.HttpLog,
		mockMode:    cfg.Mock,
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
