package http_test

import (
	"context"
	"fmt"
	"time"

	httpserver "github.com/fyrsmithlabs/notesrag/internal/http"
	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"github.com/fyrsmithlabs/notesrag/internal/orchestrator"
)

type staticAnswerer struct{}

func (staticAnswerer) Answer(context.Context, string, int64, orchestrator.AnswerOptions) (*orchestrator.QueryResponse, error) {
	return &orchestrator.QueryResponse{Answer: orchestrator.NoContextAnswer, Status: orchestrator.StatusNoContext}, nil
}

// ExampleServer demonstrates how to create and start the HTTP server.
func ExampleServer() {
	logger := logging.NewNop()

	server, err := httpserver.NewServer(staticAnswerer{}, nil, logger, &httpserver.Config{
		Host: "127.0.0.1",
		Port: 0,
	})
	if err != nil {
		panic(err)
	}

	go func() {
		_ = server.Start()
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		fmt.Println("shutdown error:", err)
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
