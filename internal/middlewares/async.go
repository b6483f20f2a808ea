package middlewares

import (
	"github.com/gin-gonic/gin"

	"github.com/roomline/roomline/internal/utils"
)

// AsyncMiddleware runs the rest of the handler chain on the worker
// pool instead of gin's per-request goroutine, bounding how many
// requests are processed at once. The request goroutine blocks until
// the worker finishes, so the context is only ever touched by one
// goroutine at a time.
func AsyncMiddleware(pool *utils.WorkerPool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if pool == nil {
			c.Next()
			return
		}

		done := make(chan struct{})
		pool.Submit(func() {
			defer close(done)
			c.Next()
		})
		<-done
	}
}
