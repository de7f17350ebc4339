package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatdesk/server/admin/app"
	"chatdesk/server/common/log"
)

func main() {
	defer log.Sync()

	cfg := app.LoadConfig()
	server, err := app.NewServer(cfg)
	if err != nil {
		log.Errorf("event=server_init status=failed error=%v", err)
		log.Sync()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infof("event=http_listen status=started service=adminfn port=%s", cfg.Port)
		if err := server.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("event=http_listen status=failed error=%v", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("event=shutdown status=failed error=%v", err)
	}
}
