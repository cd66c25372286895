package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kim130727/eapproval/internal/db/models"
	"github.com/kim130727/eapproval/internal/services"
	"github.com/kim130727/eapproval/internal/storage"
)

type DocumentHandler struct {
	workflow *services.WorkflowService
	queries  *services.DocumentQueries
	files    storage.FileStore
	db       *gorm.DB
	logger   *zap.Logger
}

func NewDocumentHandler(
	workflow *services.WorkflowService,
	queries *services.DocumentQueries,
	files storage.FileStore,
	db *gorm.DB,
	logger *zap.Logger,
) *DocumentHandler {
	return &DocumentHandler{
		workflow: workflow,
		queries:  queries,
		files:    files,
		db:       db,
		logger:   logger.With(zap.String("handler", "document")),
	}
}

// CreateDocument accepts a multipart form: title, content, repeated
// consultants/approvers/receivers ids, an approvers_order token list, and
// any number of files.
func (h *DocumentHandler) CreateDocument(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	in := services.CreateDocumentInput{
		Title:         title,
		Content:       c.PostForm("content"),
		ConsultantIDs: parseIDList(c.PostFormArray("consultants")),
		ApproverIDs:   parseIDList(c.PostFormArray("approvers")),
		ReceiverIDs:   parseIDList(c.PostFormArray("receivers")),
		ApproverOrder: parseOrderTokens(c.PostForm("approvers_order")),
	}
	if len(in.ApproverIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one approver is required"})
		return
	}

	if form, err := c.MultipartForm(); err == nil && form != nil {
		for _, fh := range form.File["files"] {
			f, err := fh.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
				return
			}
			in.Attachments = append(in.Attachments, services.AttachmentInput{
				FileName:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}

	doc, err := h.workflow.CreateDocument(c.Request.Context(), user, in)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("document creation failed", zap.Uint("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create document"})
		return
	}

	c.JSON(http.StatusCreated, docSummary(doc))
}

// GetDocument renders the document with its lines and attachments. Viewing
// a completed document marks the viewer's RECEIVE line as read.
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	user := currentUser(c)
	docID := c.Param("id")

	doc, err := h.queries.GetDocument(c.Request.Context(), docID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		h.logger.Error("document lookup failed", zap.String("doc_id", docID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load document"})
		return
	}

	if !h.queries.CanViewDocument(c.Request.Context(), user, doc) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	if doc.Status == models.StatusCompleted {
		if err := h.workflow.MarkRead(c.Request.Context(), doc.ID, user); err != nil {
			h.logger.Warn("mark read failed", zap.String("doc_id", doc.ID), zap.Error(err))
		}
	}

	lines := make([]gin.H, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		lines = append(lines, gin.H{
			"id":       line.ID,
			"role":     line.Role,
			"order":    line.Order,
			"user_id":  line.UserID,
			"username": line.User.Username,
			"decision": line.Decision,
			"comment":  line.Comment,
			"acted_at": line.ActedAt,
		})
	}
	attachments := make([]gin.H, 0, len(doc.Attachments))
	for _, att := range doc.Attachments {
		attachments = append(attachments, gin.H{
			"id":           att.ID,
			"file_name":    att.FileName,
			"content_type": att.ContentType,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"id":                 doc.ID,
		"title":              doc.Title,
		"content":            doc.Content,
		"status":             doc.Status,
		"current_line_order": doc.CurrentLineOrder,
		"created_by":         doc.CreatedBy.Username,
		"created_at":         doc.CreatedAt,
		"lines":              lines,
		"attachments":        attachments,
	})
}

type actionRequest struct {
	Comment string `json:"comment"`
}

func (h *DocumentHandler) ApproveDocument(c *gin.Context) {
	user := currentUser(c)
	docID := c.Param("id")

	var req actionRequest
	_ = c.ShouldBindJSON(&req)

	doc, err := h.workflow.Advance(c.Request.Context(), docID, user, req.Comment)
	h.respondAction(c, doc, err)
}

func (h *DocumentHandler) RejectDocument(c *gin.Context) {
	user := currentUser(c)
	docID := c.Param("id")

	var req actionRequest
	_ = c.ShouldBindJSON(&req)
	if strings.TrimSpace(req.Comment) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a rejection reason is required"})
		return
	}

	doc, err := h.workflow.Reject(c.Request.Context(), docID, user, req.Comment)
	h.respondAction(c, doc, err)
}

func (h *DocumentHandler) respondAction(c *gin.Context, doc *models.Document, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, docSummary(doc))
	case errors.Is(err, services.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "no authority to act on this document"})
	case errors.Is(err, services.ErrNoPendingLine):
		// Benign: document already terminal or another actor got there first.
		c.JSON(http.StatusConflict, gin.H{
			"error":    "no pending step to act on",
			"document": docSummary(doc),
		})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
	default:
		h.logger.Error("workflow action failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not process action"})
	}
}

func (h *DocumentHandler) DownloadAttachment(c *gin.Context) {
	user := currentUser(c)
	docID := c.Param("id")

	doc, err := h.queries.GetDocument(c.Request.Context(), docID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	if !h.queries.CanViewDocument(c.Request.Context(), user, doc) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	attID, err := strconv.ParseUint(c.Param("attID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad attachment id"})
		return
	}
	var found *models.Attachment
	for i := range doc.Attachments {
		if uint64(doc.Attachments[i].ID) == attID {
			found = &doc.Attachments[i]
			break
		}
	}
	if found == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
		return
	}

	data, err := h.files.Open(found.StorePath)
	if err != nil {
		h.logger.Error("attachment read failed", zap.String("handle", found.StorePath), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read attachment"})
		return
	}

	contentType := found.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", `attachment; filename="`+found.FileName+`"`)
	c.Data(http.StatusOK, contentType, data)
}

func (h *DocumentHandler) ListMine(c *gin.Context) {
	h.respondList(c, func(userID uint) ([]models.Document, error) {
		return h.queries.Owned(c.Request.Context(), userID)
	})
}

func (h *DocumentHandler) ListInbox(c *gin.Context) {
	h.respondList(c, func(userID uint) ([]models.Document, error) {
		return h.queries.PendingForMe(c.Request.Context(), userID)
	})
}

func (h *DocumentHandler) ListReceived(c *gin.Context) {
	h.respondList(c, func(userID uint) ([]models.Document, error) {
		return h.queries.Received(c.Request.Context(), userID)
	})
}

func (h *DocumentHandler) ListCompleted(c *gin.Context) {
	h.respondList(c, func(userID uint) ([]models.Document, error) {
		return h.queries.CompletedInvolvingMe(c.Request.Context(), userID)
	})
}

func (h *DocumentHandler) ListRejected(c *gin.Context) {
	h.respondList(c, func(userID uint) ([]models.Document, error) {
		return h.queries.RejectedInvolvingMe(c.Request.Context(), userID)
	})
}

func (h *DocumentHandler) respondList(c *gin.Context, query func(uint) ([]models.Document, error)) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	docs, err := query(user.ID)
	if err != nil {
		h.logger.Error("document list failed", zap.Uint("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list documents"})
		return
	}

	out := make([]gin.H, 0, len(docs))
	for i := range docs {
		out = append(out, docSummary(&docs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"documents": out})
}

func docSummary(doc *models.Document) gin.H {
	if doc == nil || doc.ID == "" {
		return nil
	}
	return gin.H{
		"id":                 doc.ID,
		"title":              doc.Title,
		"status":             doc.Status,
		"current_line_order": doc.CurrentLineOrder,
		"created_at":         doc.CreatedAt,
	}
}

func parseIDList(raw []string) []uint {
	out := make([]uint, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, uint(id))
	}
	return out
}

// parseOrderTokens parses the comma-separated ordering list the client
// submits alongside the approver selection. Non-numeric entries are skipped.
func parseOrderTokens(raw string) []uint {
	if raw == "" {
		return nil
	}
	return parseIDList(strings.Split(raw, ","))
}
