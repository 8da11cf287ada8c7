package http

import (
	"errors"
	"net/http"
	"strings"

	"peerboard/internal/core/domain"
	"peerboard/internal/core/ports"
	"peerboard/internal/core/services"
	apperrors "peerboard/pkg/errors"
	"peerboard/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BoardHandler exposes the local node to its UI. Every call that touches
// board state is executed on the event loop.
type BoardHandler struct {
	loop      ports.Executor
	engine    *services.ReplicationEngine
	rooms     *services.RoomService
	conns     ports.ConnectionService
	codec     ports.SignalCodec
	publicURL string
	logger    *zap.SugaredLogger
}

var _ ports.BoardHTTPHandler = (*BoardHandler)(nil)

func NewBoardHandler(
	loop ports.Executor,
	engine *services.ReplicationEngine,
	rooms *services.RoomService,
	conns ports.ConnectionService,
	codec ports.SignalCodec,
	publicURL string,
	logger *zap.SugaredLogger,
) *BoardHandler {
	return &BoardHandler{
		loop:      loop,
		engine:    engine,
		rooms:     rooms,
		conns:     conns,
		codec:     codec,
		publicURL: publicURL,
		logger:    logger,
	}
}

func (h *BoardHandler) SetupRoutes(router *gin.Engine, middleware ...gin.HandlerFunc) {
	api := router.Group("/api/v1", middleware...)
	{
		api.POST("/connections/offer", h.CreateOffer)
		api.POST("/connections/accept-offer", h.AcceptOffer)
		api.POST("/connections/accept-answer", h.AcceptAnswer)
		api.DELETE("/connections/:id", h.Disconnect)

		api.GET("/participants", h.ListParticipants)
		api.PUT("/participants/me", h.UpdateLocalParticipant)

		api.GET("/board", h.GetBoard)
		api.POST("/board/operations", h.SubmitOperation)
		api.POST("/board/cursor", h.MoveCursor)

		api.GET("/locks", h.ListLocks)
		api.POST("/locks/:id", h.AcquireLock)
		api.DELETE("/locks/:id", h.ReleaseLock)

		api.GET("/room/export", h.ExportRoom)
		api.POST("/room/import", h.ImportRoom)
	}
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// bindToken accepts either a bare connection code or an invite link.
func (h *BoardHandler) bindToken(c *gin.Context) (domain.SignalPayload, bool) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("token is required"))
		return domain.SignalPayload{}, false
	}

	var (
		payload domain.SignalPayload
		err     error
	)
	token := strings.TrimSpace(req.Token)
	if strings.Contains(token, "://") {
		payload, err = h.codec.FromInviteLink(token)
	} else {
		payload, err = h.codec.Decode(token)
	}
	if err != nil {
		respondError(c, err)
		return domain.SignalPayload{}, false
	}
	return payload, true
}

// do runs fn on the event loop and reports whether it ran.
func (h *BoardHandler) do(c *gin.Context, fn func()) bool {
	if err := h.loop.Do(c.Request.Context(), fn); err != nil {
		respondError(c, err)
		return false
	}
	return true
}

func (h *BoardHandler) CreateOffer(c *gin.Context) {
	payload, err := h.conns.InitiateConnection(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := h.codec.Encode(payload)
	if err != nil {
		respondError(c, err)
		return
	}
	link, err := h.codec.InviteLink(h.publicURL, token)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":        token,
		"link":         link,
		"connectionId": payload.TargetID,
	})
}

func (h *BoardHandler) AcceptOffer(c *gin.Context) {
	offer, ok := h.bindToken(c)
	if !ok {
		return
	}

	answer, err := h.conns.AcceptOffer(c.Request.Context(), offer)
	if err != nil {
		respondError(c, err)
		return
	}
	token, err := h.codec.Encode(answer)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":    token,
		"hostId":   offer.ParticipantID,
		"hostName": offer.DisplayName,
	})
}

func (h *BoardHandler) AcceptAnswer(c *gin.Context) {
	answer, ok := h.bindToken(c)
	if !ok {
		return
	}

	if err := h.conns.AcceptAnswer(c.Request.Context(), answer); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"participantId": answer.ParticipantID,
		"displayName":   answer.DisplayName,
	})
}

func (h *BoardHandler) Disconnect(c *gin.Context) {
	id := domain.ParticipantID(c.Param("id"))
	if err := h.conns.Disconnect(id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *BoardHandler) ListParticipants(c *gin.Context) {
	var participants []domain.Participant
	if !h.do(c, func() { participants = h.engine.Participants() }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"participants": participants,
		"connected":    len(h.conns.OpenPeers()),
	})
}

func (h *BoardHandler) UpdateLocalParticipant(c *gin.Context) {
	var req struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	if req.Name == "" && req.Color == "" {
		_ = c.Error(apperrors.NewInvalidInputError("name or color is required"))
		return
	}
	if req.Name != "" {
		if err := validation.ValidateDisplayName(req.Name); err != nil {
			_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
			return
		}
	}
	if req.Color != "" {
		if err := validation.ValidateColor(req.Color); err != nil {
			_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
			return
		}
	}

	var local domain.Participant
	if !h.do(c, func() { local = h.engine.SetUserInfo(req.Name, req.Color) }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"participant": local})
}

func (h *BoardHandler) GetBoard(c *gin.Context) {
	var (
		room     domain.Room
		objects  []*domain.Object
		stickies []*domain.Object
		staged   []*domain.Object
		locks    map[domain.ObjectID]domain.ParticipantID
	)
	ok := h.do(c, func() {
		room = h.rooms.Room()
		objects = h.engine.Objects()
		stickies = h.engine.Stickies()
		staged = h.engine.Staged()
		locks = h.engine.Locks()
	})
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room":     room,
		"objects":  objects,
		"stickies": stickies,
		"staged":   staged,
		"locks":    locks,
	})
}

type operationRequest struct {
	Op      domain.OperationKind `json:"op" binding:"required"`
	Confirm bool                 `json:"confirm"`
	domain.OperationData
}

func (h *BoardHandler) SubmitOperation(c *gin.Context) {
	var req operationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	if !req.Op.Valid() {
		_ = c.Error(apperrors.NewInvalidInputError("unknown operation " + string(req.Op)))
		return
	}
	if req.Op == domain.OpClear && !req.Confirm {
		_ = c.Error(apperrors.NewInvalidInputError("clear requires confirm: true"))
		return
	}
	if req.Op != domain.OpAdd && req.Op != domain.OpStartStream && req.Op != domain.OpClear {
		if err := validation.ValidateObjectID(string(req.Target())); err != nil {
			_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
			return
		}
	}

	var (
		obj  *domain.Object
		sent bool
		err  error
	)
	ok := h.do(c, func() {
		if req.Op == domain.OpAppendStream {
			if req.Point == nil {
				err = domain.ErrInvalidObject
				return
			}
			sent, err = h.engine.AppendStream(req.Target(), *req.Point)
			return
		}
		obj, err = h.engine.Apply(req.Op, req.OperationData)
	})
	if !ok {
		return
	}
	if err != nil {
		if errors.Is(err, domain.ErrLockDenied) {
			_ = c.Error(apperrors.NewLockDeniedError(string(req.Target())))
			return
		}
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if req.Op == domain.OpAdd || req.Op == domain.OpStartStream {
		status = http.StatusCreated
	}
	body := gin.H{"op": req.Op}
	if obj != nil {
		body["object"] = obj
	}
	if req.Op == domain.OpAppendStream {
		body["sent"] = sent
	}
	c.JSON(status, body)
}

func (h *BoardHandler) MoveCursor(c *gin.Context) {
	var req struct {
		X *float64 `json:"x" binding:"required"`
		Y *float64 `json:"y" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("x and y are required"))
		return
	}

	var sent bool
	if !h.do(c, func() { sent = h.engine.MoveCursor(*req.X, *req.Y) }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": sent})
}

func (h *BoardHandler) objectParam(c *gin.Context) (domain.ObjectID, bool) {
	id := c.Param("id")
	if err := validation.ValidateObjectID(id); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.ObjectID(id), true
}

func (h *BoardHandler) AcquireLock(c *gin.Context) {
	id, ok := h.objectParam(c)
	if !ok {
		return
	}

	var granted bool
	if !h.do(c, func() { granted = h.engine.AcquireLock(id) }) {
		return
	}
	if !granted {
		_ = c.Error(apperrors.NewLockDeniedError(string(id)))
		return
	}
	c.JSON(http.StatusOK, gin.H{"objectId": id, "granted": true})
}

func (h *BoardHandler) ReleaseLock(c *gin.Context) {
	id, ok := h.objectParam(c)
	if !ok {
		return
	}

	var released bool
	if !h.do(c, func() { released = h.engine.ReleaseLock(id) }) {
		return
	}
	if !released {
		_ = c.Error(apperrors.NewNotFoundError("lock"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *BoardHandler) ListLocks(c *gin.Context) {
	var locks map[domain.ObjectID]domain.ParticipantID
	if !h.do(c, func() { locks = h.engine.Locks() }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"locks": locks})
}

func (h *BoardHandler) ExportRoom(c *gin.Context) {
	var export domain.RoomExport
	if !h.do(c, func() { export = h.rooms.Export() }) {
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+string(export.RoomID)+`.json"`)
	c.JSON(http.StatusOK, export)
}

func (h *BoardHandler) ImportRoom(c *gin.Context) {
	strategy := services.ImportStrategy(c.DefaultQuery("strategy", string(services.ImportMerge)))

	var data domain.RoomExport
	if err := c.ShouldBindJSON(&data); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid room export"))
		return
	}

	var (
		imported int
		err      error
	)
	ctx := c.Request.Context()
	if !h.do(c, func() { imported, err = h.rooms.Import(ctx, data, strategy) }) {
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	h.logger.Infow("room imported through api", "strategy", strategy, "objects", imported)
	c.JSON(http.StatusOK, gin.H{"imported": imported, "strategy": strategy})
}
