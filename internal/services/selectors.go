package services

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kim130727/eapproval/internal/db/models"
)

// DocumentQueries are the read-only projections over documents by a user's
// relationship to them. No side effects, duplicate-free, newest first.
type DocumentQueries struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewDocumentQueries(db *gorm.DB, logger *zap.Logger) *DocumentQueries {
	return &DocumentQueries{
		db:     db,
		logger: logger.With(zap.String("service", "document_queries")),
	}
}

func (q *DocumentQueries) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	var doc models.Document
	err := q.db.WithContext(ctx).
		Preload("CreatedBy").
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("line_order, id")
		}).
		Preload("Lines.User").
		Preload("Attachments").
		First(&doc, "id = ?", docID).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Owned lists documents created by the user.
func (q *DocumentQueries) Owned(ctx context.Context, userID uint) ([]models.Document, error) {
	var docs []models.Document
	err := q.db.WithContext(ctx).
		Where("created_by_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&docs).Error
	return docs, err
}

// PendingForMe lists in-progress documents whose current actionable line is
// assigned to the user.
func (q *DocumentQueries) PendingForMe(ctx context.Context, userID uint) ([]models.Document, error) {
	var docs []models.Document
	err := q.db.WithContext(ctx).
		Joins("JOIN document_lines ON document_lines.document_id = documents.id").
		Where("documents.status = ?", models.StatusInProgress).
		Where("document_lines.user_id = ? AND document_lines.decision = ?", userID, models.DecisionPending).
		Where("document_lines.line_order = documents.current_line_order").
		Where("document_lines.role IN ?", models.ActiveLineRoles()).
		Distinct("documents.*").
		Order("documents.created_at DESC, documents.id DESC").
		Find(&docs).Error
	return docs, err
}

// Received lists completed documents on which the user holds a RECEIVE line.
func (q *DocumentQueries) Received(ctx context.Context, userID uint) ([]models.Document, error) {
	var docs []models.Document
	err := q.db.WithContext(ctx).
		Joins("JOIN document_lines ON document_lines.document_id = documents.id").
		Where("documents.status = ?", models.StatusCompleted).
		Where("document_lines.user_id = ? AND document_lines.role = ?", userID, models.LineReceive).
		Distinct("documents.*").
		Order("documents.created_at DESC, documents.id DESC").
		Find(&docs).Error
	return docs, err
}

// CompletedInvolvingMe lists completed documents the user created or
// appears on in any line.
func (q *DocumentQueries) CompletedInvolvingMe(ctx context.Context, userID uint) ([]models.Document, error) {
	return q.terminalInvolving(ctx, userID, models.StatusCompleted)
}

// RejectedInvolvingMe lists rejected documents the user created or appears
// on in any line.
func (q *DocumentQueries) RejectedInvolvingMe(ctx context.Context, userID uint) ([]models.Document, error) {
	return q.terminalInvolving(ctx, userID, models.StatusRejected)
}

func (q *DocumentQueries) terminalInvolving(ctx context.Context, userID uint, status models.DocumentStatus) ([]models.Document, error) {
	lineDocs := q.db.Model(&models.DocumentLine{}).
		Select("document_id").
		Where("user_id = ?", userID)

	var docs []models.Document
	err := q.db.WithContext(ctx).
		Where("documents.status = ?", status).
		Where("documents.created_by_id = ? OR documents.id IN (?)", userID, lineDocs).
		Order("documents.created_at DESC, documents.id DESC").
		Find(&docs).Error
	return docs, err
}

// CanViewDocument grants access to superusers, the creator, any line
// assignee, and attachment uploaders.
func (q *DocumentQueries) CanViewDocument(ctx context.Context, user *models.User, doc *models.Document) bool {
	if user == nil || doc == nil {
		return false
	}
	if user.IsSuperuser || doc.CreatedByID == user.ID {
		return true
	}

	var count int64
	err := q.db.WithContext(ctx).Model(&models.DocumentLine{}).
		Where("document_id = ? AND user_id = ?", doc.ID, user.ID).
		Count(&count).Error
	if err != nil {
		q.logger.Error("line lookup failed", zap.String("doc_id", doc.ID), zap.Error(err))
		return false
	}
	if count > 0 {
		return true
	}

	err = q.db.WithContext(ctx).Model(&models.Attachment{}).
		Where("document_id = ? AND uploaded_by_id = ?", doc.ID, user.ID).
		Count(&count).Error
	if err != nil {
		return false
	}
	return count > 0
}
