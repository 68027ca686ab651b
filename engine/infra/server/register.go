package server

import (
	"github.com/gin-gonic/gin"
	"github.com/taskdeck/taskdeck/engine/infra/server/middleware/size"
	"github.com/taskdeck/taskdeck/engine/infra/server/routes"
)

// RegisterRoutes mounts the task API. Every route except the share lookup
// requires authentication.
func RegisterRoutes(r *gin.Engine, deps *Deps, authenticate gin.HandlerFunc, uploadLimit int64) {
	h := &taskHandlers{tasks: deps.Tasks}
	recorder := deps.Connections
	if recorder == nil {
		recorder = nopConnectionRecorder{}
	}
	poll := deps.StreamPoll
	if poll <= 0 {
		poll = defaultStreamPoll
	}
	heartbeat := deps.StreamHeartbeat
	if heartbeat <= 0 {
		heartbeat = defaultStreamHeartbeat
	}
	ps := &progressStream{
		tasks:     deps.Tasks,
		live:      deps.Live,
		recorder:  recorder,
		poll:      poll,
		heartbeat: heartbeat,
	}

	tasks := r.Group(routes.Tasks(), authenticate)
	tasks.POST("", size.BodySizeLimiter(uploadLimit), h.createTask)
	tasks.GET("/:task_id", h.getTask)
	tasks.GET("/:task_id/progress", h.listProgress)
	tasks.GET("/:task_id/stream", ps.streamProgress)
	tasks.POST("/:task_id/terminate", h.terminateTask)
	tasks.POST("/:task_id/share", h.shareTask)

	r.GET(routes.SharedTasks()+"/:task_id", h.fetchShared)
}
