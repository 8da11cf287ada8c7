package ports

import "github.com/gin-gonic/gin"

type BoardHTTPHandler interface {
	CreateOffer(c *gin.Context)
	AcceptOffer(c *gin.Context)
	AcceptAnswer(c *gin.Context)
	Disconnect(c *gin.Context)
	ListParticipants(c *gin.Context)
	UpdateLocalParticipant(c *gin.Context)
	GetBoard(c *gin.Context)
	SubmitOperation(c *gin.Context)
	MoveCursor(c *gin.Context)
	AcquireLock(c *gin.Context)
	ReleaseLock(c *gin.Context)
	ListLocks(c *gin.Context)
	ExportRoom(c *gin.Context)
	ImportRoom(c *gin.Context)
}

type RenderSocketHandler interface {
	HandleConnection(c *gin.Context)
}
