package webserver

import (
	"github.com/gin-gonic/gin"

	"github.com/stake-plus/chat-proxy/src/chat"
	"github.com/stake-plus/chat-proxy/src/config"
	"github.com/stake-plus/chat-proxy/src/data"
)

// TurnRecorder receives one audit record per chat turn.
type TurnRecorder interface {
	Record(rec data.TurnRecord) error
}

// Deps are the collaborators the routes need.
type Deps struct {
	Orchestrator *chat.Orchestrator
	Audit        TurnRecorder
}

func New(cfg config.Config, deps Deps) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())
	attachRoutes(g, cfg, deps)
	return g
}
