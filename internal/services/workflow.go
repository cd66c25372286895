package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kim130727/eapproval/internal/config"
	"github.com/kim130727/eapproval/internal/db/models"
	"github.com/kim130727/eapproval/internal/storage"
	"github.com/kim130727/eapproval/internal/utils"
	"github.com/kim130727/eapproval/pkg/metrics"
)

// WorkflowService builds review lines and drives documents through them.
// Advance and Reject run inside a serializing transaction: the document row
// is locked on postgres and the line update is guarded by its PENDING state,
// so exactly one caller consumes the current line per invocation.
type WorkflowService struct {
	db       *gorm.DB
	roles    *RoleService
	files    storage.FileStore
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.MetricsCollector
	cfg      config.WorkflowConfig
}

func NewWorkflowService(
	db *gorm.DB,
	roles *RoleService,
	files storage.FileStore,
	notifier Notifier,
	logger *zap.Logger,
	collector *metrics.MetricsCollector,
	cfg config.WorkflowConfig,
) *WorkflowService {
	return &WorkflowService{
		db:       db,
		roles:    roles,
		files:    files,
		notifier: notifier,
		logger:   logger.With(zap.String("service", "workflow_service")),
		metrics:  collector,
		cfg:      cfg,
	}
}

type AttachmentInput struct {
	FileName    string
	ContentType string
	Data        []byte
}

type CreateDocumentInput struct {
	Title         string
	Content       string
	ConsultantIDs []uint
	ApproverIDs   []uint
	ReceiverIDs   []uint
	// ApproverOrder carries the client's explicit ordering tokens. Entries
	// present in ApproverIDs are kept in this relative order; selected
	// approvers missing from it are appended in selection order.
	ApproverOrder []uint
	Attachments   []AttachmentInput
}

// CreateDocument materializes a document with its full review line inside
// one transaction. Orders are assigned 1..n to consultants, then approvers
// (in reconciled order), then receivers. A document with no active-role
// lines completes immediately.
func (ws *WorkflowService) CreateDocument(ctx context.Context, creator *models.User, in CreateDocumentInput) (*models.Document, error) {
	consultants := dedupeIDs(in.ConsultantIDs)
	approvers := reconcileApproverOrder(dedupeIDs(in.ApproverIDs), in.ApproverOrder)
	receivers := dedupeIDs(in.ReceiverIDs)

	users, err := ws.loadSelectees(consultants, approvers, receivers)
	if err != nil {
		return nil, err
	}

	// Attachment bytes go to the file store before the transaction; a
	// rollback leaves orphan files but never partial rows.
	type storedFile struct {
		input  AttachmentInput
		handle string
	}
	stored := make([]storedFile, 0, len(in.Attachments))
	for _, att := range in.Attachments {
		handle, err := ws.files.Save(att.FileName, att.Data)
		if err != nil {
			return nil, fmt.Errorf("store attachment %q: %w", att.FileName, err)
		}
		ws.metrics.ObserveSize("attachment_bytes", float64(len(att.Data)))
		stored = append(stored, storedFile{input: att, handle: handle})
	}

	doc := models.Document{
		ID:               uuid.New().String(),
		Title:            in.Title,
		Content:          in.Content,
		CreatedByID:      creator.ID,
		Status:           models.StatusSubmitted,
		CurrentLineOrder: 1,
	}

	err = ws.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&doc).Error; err != nil {
			return err
		}

		order := 1
		for _, id := range consultants {
			if err := tx.Create(&models.DocumentLine{
				DocumentID: doc.ID, Role: models.LineConsult, Order: order, UserID: id,
			}).Error; err != nil {
				return err
			}
			order++
		}
		for _, id := range approvers {
			if err := tx.Create(&models.DocumentLine{
				DocumentID: doc.ID, Role: models.LineApprove, Order: order, UserID: id,
			}).Error; err != nil {
				return err
			}
			order++
		}
		for _, id := range receivers {
			if err := tx.Create(&models.DocumentLine{
				DocumentID: doc.ID, Role: models.LineReceive, Order: order, UserID: id,
			}).Error; err != nil {
				return err
			}
			order++
		}

		for _, sf := range stored {
			if err := tx.Create(&models.Attachment{
				DocumentID:   doc.ID,
				FileName:     sf.input.FileName,
				StorePath:    sf.handle,
				ContentType:  sf.input.ContentType,
				UploadedByID: creator.ID,
			}).Error; err != nil {
				return err
			}
		}

		if len(consultants)+len(approvers) > 0 {
			doc.Status = models.StatusInProgress
		} else {
			doc.Status = models.StatusCompleted
		}
		return tx.Model(&doc).Update("status", doc.Status).Error
	})
	if err != nil {
		return nil, err
	}

	ws.metrics.IncrementCounter(metrics.CounterDocumentsSubmitted, nil)
	ws.logger.Info("document submitted",
		zap.String("doc_id", doc.ID),
		zap.Uint("creator_id", creator.ID),
		zap.String("status", string(doc.Status)),
		zap.Int("lines", len(consultants)+len(approvers)+len(receivers)))

	// Notifications fire after commit, never inside the transaction.
	active := make([]*models.User, 0, len(consultants)+len(approvers))
	for _, id := range append(append([]uint{}, consultants...), approvers...) {
		if u, ok := users[id]; ok {
			active = append(active, u)
		}
	}
	if len(active) > 0 {
		ws.notifier.NotifySubmit(&doc, active)
	}
	if doc.Status == models.StatusCompleted {
		ws.metrics.IncrementCounter(metrics.CounterDocumentsCompleted, nil)
		ws.notifier.NotifyCompleted(&doc, creator)
	}

	return &doc, nil
}

// loadSelectees fetches every selected user and re-validates privilege on
// the server side; client-supplied selections are untrusted.
func (ws *WorkflowService) loadSelectees(lists ...[]uint) (map[uint]*models.User, error) {
	ids := make([]uint, 0)
	for _, list := range lists {
		ids = append(ids, list...)
	}
	out := make(map[uint]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var users []models.User
	if err := ws.db.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for i := range users {
		out[users[i].ID] = &users[i]
	}

	for _, id := range ids {
		u, ok := out[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown user %d selected", ErrValidation, id)
		}
		if !ws.roles.IsPrivileged(u) {
			return nil, fmt.Errorf("%w: user %q is not a chair member", ErrValidation, u.Username)
		}
	}
	return out, nil
}

// Advance approves the current actionable line and moves the document one
// order unit forward. One line per call: if sibling lines ever share an
// order value, callers re-invoke per pending sibling.
func (ws *WorkflowService) Advance(ctx context.Context, docID string, actor *models.User, comment string) (*models.Document, error) {
	var doc models.Document
	var nextUser *models.User
	completed := false

	err := ws.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&doc, "id = ?", docID).Error; err != nil {
			return err
		}

		line, err := ws.nextPendingLine(tx, &doc)
		if err != nil {
			return err
		}
		if line == nil {
			return ErrNoPendingLine
		}
		if line.UserID != actor.ID && !actor.IsSuperuser {
			return ErrPermissionDenied
		}

		now := time.Now()
		res := tx.Model(&models.DocumentLine{}).
			Where("id = ? AND decision = ?", line.ID, models.DecisionPending).
			Updates(map[string]interface{}{
				"decision": models.DecisionApproved,
				"comment":  utils.Truncate(comment, ws.cfg.CommentMaxLen),
				"acted_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A concurrent actor consumed the line after our read.
			return ErrNoPendingLine
		}

		doc.CurrentLineOrder++
		next, err := ws.nextPendingLine(tx, &doc)
		if err != nil {
			return err
		}
		if next == nil {
			doc.Status = models.StatusCompleted
			completed = true
		} else {
			doc.Status = models.StatusInProgress
			var u models.User
			if err := tx.First(&u, next.UserID).Error; err == nil {
				nextUser = &u
			}
		}

		return tx.Model(&doc).Updates(map[string]interface{}{
			"current_line_order": doc.CurrentLineOrder,
			"status":             doc.Status,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrNoPendingLine) {
			return &doc, ErrNoPendingLine
		}
		return nil, err
	}

	ws.metrics.IncrementCounter(metrics.CounterLinesApproved, nil)
	ws.logger.Info("line approved",
		zap.String("doc_id", doc.ID),
		zap.Uint("actor_id", actor.ID),
		zap.Int("next_order", doc.CurrentLineOrder),
		zap.String("status", string(doc.Status)))

	if completed {
		ws.metrics.IncrementCounter(metrics.CounterDocumentsCompleted, nil)
		var creator models.User
		if err := ws.db.First(&creator, doc.CreatedByID).Error; err == nil {
			ws.notifier.NotifyCompleted(&doc, &creator)
		}
	} else if nextUser != nil {
		ws.notifier.NotifyStepAdvance(&doc, actor, nextUser)
	}

	return &doc, nil
}

// Reject marks the current actionable line rejected and terminates the
// document regardless of remaining lines. The caller boundary validates
// that comment is non-blank.
func (ws *WorkflowService) Reject(ctx context.Context, docID string, actor *models.User, comment string) (*models.Document, error) {
	var doc models.Document
	reason := utils.Truncate(comment, ws.cfg.CommentMaxLen)

	err := ws.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&doc, "id = ?", docID).Error; err != nil {
			return err
		}

		line, err := ws.nextPendingLine(tx, &doc)
		if err != nil {
			return err
		}
		if line == nil {
			return ErrNoPendingLine
		}
		if line.UserID != actor.ID && !actor.IsSuperuser {
			return ErrPermissionDenied
		}

		now := time.Now()
		res := tx.Model(&models.DocumentLine{}).
			Where("id = ? AND decision = ?", line.ID, models.DecisionPending).
			Updates(map[string]interface{}{
				"decision": models.DecisionRejected,
				"comment":  reason,
				"acted_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoPendingLine
		}

		doc.Status = models.StatusRejected
		return tx.Model(&doc).Update("status", doc.Status).Error
	})
	if err != nil {
		if errors.Is(err, ErrNoPendingLine) {
			return &doc, ErrNoPendingLine
		}
		return nil, err
	}

	ws.metrics.IncrementCounter(metrics.CounterDocumentsRejected, nil)
	ws.logger.Info("document rejected",
		zap.String("doc_id", doc.ID),
		zap.Uint("actor_id", actor.ID))

	var creator models.User
	if err := ws.db.First(&creator, doc.CreatedByID).Error; err == nil {
		ws.notifier.NotifyRejected(&doc, &creator, reason)
	}

	return &doc, nil
}

// MarkRead transitions the actor's RECEIVE line from PENDING to READ.
// Idempotent, and not gated by the document's current line order.
func (ws *WorkflowService) MarkRead(ctx context.Context, docID string, actor *models.User) error {
	return ws.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var line models.DocumentLine
		err := tx.Where("document_id = ? AND role = ? AND user_id = ?",
			docID, models.LineReceive, actor.ID).
			Order("line_order, id").
			First(&line).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if line.Decision != models.DecisionPending {
			return nil
		}

		now := time.Now()
		return tx.Model(&line).Updates(map[string]interface{}{
			"decision": models.DecisionRead,
			"acted_at": now,
		}).Error
	})
}

// nextPendingLine resolves the single actionable line: an active role at the
// document's current order, still pending.
func (ws *WorkflowService) nextPendingLine(tx *gorm.DB, doc *models.Document) (*models.DocumentLine, error) {
	var line models.DocumentLine
	err := tx.Where("document_id = ? AND role IN ? AND line_order = ? AND decision = ?",
		doc.ID, models.ActiveLineRoles(), doc.CurrentLineOrder, models.DecisionPending).
		Order("line_order, id").
		First(&line).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// lockForUpdate takes a row lock where the dialect supports it. The sqlite
// test driver relies on the guarded line update alone.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func dedupeIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// reconcileApproverOrder applies the client's explicit ordering tokens to
// the selected set. Tokens not in the selection are dropped, duplicates
// collapse to first occurrence, and selected approvers missing from the
// token list are appended in selection order.
func reconcileApproverOrder(selected, tokens []uint) []uint {
	if len(tokens) == 0 {
		return selected
	}

	inSelection := make(map[uint]bool, len(selected))
	for _, id := range selected {
		inSelection[id] = true
	}

	seen := make(map[uint]bool, len(selected))
	ordered := make([]uint, 0, len(selected))
	for _, id := range tokens {
		if inSelection[id] && !seen[id] {
			ordered = append(ordered, id)
			seen[id] = true
		}
	}
	for _, id := range selected {
		if !seen[id] {
			ordered = append(ordered, id)
			seen[id] = true
		}
	}
	return ordered
}
