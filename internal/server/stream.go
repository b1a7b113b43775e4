package server

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	streamWriteTimeout         = 5 * time.Second
	streamClosingReason        = "stream closed"
	logMessageStreamAccept     = "rate stream upgrade failed"
	logMessageStreamWriteError = "rate stream write failed"
)

// streamRateStatus pushes the rate status immediately and then every status interval until the
// client goes away.
func (handler workflowHandler) streamRateStatus(ginContext *gin.Context) {
	connection, err := websocket.Accept(ginContext.Writer, ginContext.Request, nil)
	if err != nil {
		handler.logger.Warn(logMessageStreamAccept, zap.Error(err))
		return
	}
	defer connection.Close(websocket.StatusInternalError, streamClosingReason)

	streamContext := connection.CloseRead(ginContext.Request.Context())
	ticker := time.NewTicker(handler.statusInterval)
	defer ticker.Stop()

	for {
		if err := handler.writeStatus(streamContext, connection); err != nil {
			if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
				handler.logger.Debug(logMessageStreamWriteError, zap.Error(err))
			}
			return
		}
		select {
		case <-streamContext.Done():
			connection.Close(websocket.StatusNormalClosure, streamClosingReason)
			return
		case <-ticker.C:
		}
	}
}

func (handler workflowHandler) writeStatus(ctx context.Context, connection *websocket.Conn) error {
	writeContext, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(writeContext, connection, handler.session.EvaluateRate(handler.now()))
}
