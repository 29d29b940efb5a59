package httpkit

import (
	"net/http"
	"time"

	"feedthreads/internal/platform/net/middleware"
)

// CommonStack is the baseline middleware for the versioned API scope
func CommonStack() []func(http.Handler) http.Handler {
	return append(middleware.Defaults(),
		middleware.AccessLogZerolog(middleware.AccessLogOptions{Slow: 500 * time.Millisecond}),
		middleware.CORS(middleware.CORSOptions{}),
	)
}
