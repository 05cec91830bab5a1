package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tcbridge/internal/client"
	"tcbridge/internal/domain"
	"tcbridge/internal/metadata"
	"tcbridge/internal/service"
)

// maxTorrentSize bounds uploaded torrent files.
const maxTorrentSize = 32 << 20

// Handler republishes one client over HTTP.
type Handler struct {
	client client.Client
	auth   service.AuthService
	moves  service.MoveService
	logger *logrus.Logger
}

// NewHandler builds the facade. moves may be nil, in which case the journal
// routes are not registered.
func NewHandler(c client.Client, auth service.AuthService, moves service.MoveService, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		client: c,
		auth:   auth,
		moves:  moves,
		logger: logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())
	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})

	api := router.Group("/", h.requireAPIKey())
	{
		api.GET("/list", h.list)
		api.GET("/list_active", h.listActive)
		api.POST("/start", h.start)
		api.POST("/stop", h.stop)
		api.GET("/test_connection", h.testConnection)
		api.POST("/add", h.add)
		api.POST("/remove", h.remove)
		api.GET("/retrieve_torrentfile", h.retrieveTorrentFile)
		api.GET("/get_download_path", h.getDownloadPath)
		api.GET("/get_files", h.getFiles)
		if h.moves != nil {
			api.GET("/moves", h.listMoves)
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		key, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || h.auth.Verify(key) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// fail answers adapter errors with 500 and a JSON array holding the reason.
func (h *Handler) fail(c *gin.Context, err error) {
	h.logger.WithError(err).WithField("path", c.FullPath()).Error("failed to handle request")
	c.JSON(http.StatusInternalServerError, []string{err.Error()})
}

func infoHashParam(c *gin.Context) (string, bool) {
	infoHash := strings.ToLower(strings.TrimSpace(c.Query("infohash")))
	if infoHash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "infohash is required"})
		return "", false
	}
	return infoHash, true
}

func (h *Handler) list(c *gin.Context) {
	records, err := h.client.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(records))
}

func (h *Handler) listActive(c *gin.Context) {
	records, err := h.client.ListActive(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(records))
}

func nonNil(records []domain.TorrentRecord) []domain.TorrentRecord {
	if records == nil {
		return []domain.TorrentRecord{}
	}
	return records
}

func (h *Handler) start(c *gin.Context) {
	h.simple(c, h.client.Start)
}

func (h *Handler) stop(c *gin.Context) {
	h.simple(c, h.client.Stop)
}

func (h *Handler) remove(c *gin.Context) {
	h.simple(c, h.client.Remove)
}

func (h *Handler) simple(c *gin.Context, op func(context.Context, string) error) {
	infoHash, ok := infoHashParam(c)
	if !ok {
		return
	}
	if err := op(c.Request.Context(), infoHash); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (h *Handler) testConnection(c *gin.Context) {
	c.JSON(http.StatusOK, h.client.TestConnection(c.Request.Context()))
}

func (h *Handler) add(c *gin.Context) {
	destination := strings.TrimSpace(c.Query("destination_path"))
	if destination == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "destination_path is required"})
		return
	}
	minimum, err := domain.ParseDataSufficiency(c.Query("minimum_expected_data"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	header, err := c.FormFile("torrent")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "torrent file is required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxTorrentSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(data) > maxTorrentSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "torrent file too large"})
		return
	}
	md, err := metadata.Parse(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = h.client.Add(c.Request.Context(), md, client.AddOptions{
		DestinationPath:     destination,
		FastResume:          flag(c, "fast_resume"),
		AddNameToFolder:     flag(c, "add_name_to_folder"),
		MinimumExpectedData: minimum,
		Stopped:             flag(c, "stopped"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func flag(c *gin.Context, name string) bool {
	v, _ := strconv.ParseBool(c.Query(name))
	return v
}

func (h *Handler) retrieveTorrentFile(c *gin.Context) {
	infoHash, ok := infoHashParam(c)
	if !ok {
		return
	}
	data, err := h.client.RetrieveMetadata(c.Request.Context(), infoHash)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", infoHash+".torrent"))
	c.Data(http.StatusOK, "application/x-bittorrent", data)
}

func (h *Handler) getDownloadPath(c *gin.Context) {
	infoHash, ok := infoHashParam(c)
	if !ok {
		return
	}
	path, err := h.client.GetDownloadPath(c.Request.Context(), infoHash)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, path)
}

func (h *Handler) getFiles(c *gin.Context) {
	infoHash, ok := infoHashParam(c)
	if !ok {
		return
	}
	files, err := h.client.GetFiles(c.Request.Context(), infoHash)
	if err != nil {
		h.fail(c, err)
		return
	}
	if files == nil {
		files = []domain.FileRecord{}
	}
	c.JSON(http.StatusOK, files)
}

type MoveResponse struct {
	ID           string            `json:"id"`
	InfoHash     string            `json:"infohash"`
	Source       string            `json:"source"`
	Target       string            `json:"target"`
	Status       domain.MoveStatus `json:"status"`
	ErrorMessage string            `json:"error_message"`
	Archive      string            `json:"archive"`
	StartedAt    string            `json:"started_at"`
	FinishedAt   *string           `json:"finished_at,omitempty"`
}

func (h *Handler) listMoves(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	moves, err := h.moves.ListMoves(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := make([]MoveResponse, len(moves))
	for i, m := range moves {
		resp[i] = MoveResponse{
			ID:           m.ID,
			InfoHash:     m.InfoHash,
			Source:       m.Source,
			Target:       m.Target,
			Status:       m.Status,
			ErrorMessage: m.ErrorMessage,
			Archive:      m.Archive,
			StartedAt:    m.StartedAt.UTC().Format(time.RFC3339),
		}
		if m.FinishedAt != nil {
			finished := m.FinishedAt.UTC().Format(time.RFC3339)
			resp[i].FinishedAt = &finished
		}
	}
	c.JSON(http.StatusOK, resp)
}
