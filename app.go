// Package contactcast is a contact book with broadcast messaging, served as a
// Cloud Function.
package contactcast

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/klipach/contactcast/config"
	"github.com/klipach/contactcast/log"
)

var (
	serverOnce sync.Once
	server     *Server
	serverErr  error
)

func init() {
	functions.HTTP("App", App)
}

// App is the function entry point. The server is built on the first request
// and reused by the instance afterwards.
func App(w http.ResponseWriter, r *http.Request) {
	serverOnce.Do(func() {
		ctx := context.Background()
		cfg, err := config.Load(ctx)
		if err != nil {
			serverErr = err
			return
		}
		server, serverErr = NewServer(ctx, cfg)
	})
	if serverErr != nil {
		log.LoggerFromContext(r.Context()).Error("error while starting server", slog.String(ErrorMsgLogField, serverErr.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	server.ServeHTTP(w, r)
}
