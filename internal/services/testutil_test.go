package services

import (
	"sync"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kim130727/eapproval/internal/config"
	"github.com/kim130727/eapproval/internal/db"
	"github.com/kim130727/eapproval/internal/db/models"
	"github.com/kim130727/eapproval/internal/storage"
	"github.com/kim130727/eapproval/pkg/metrics"
)

const testChairGroup = "CHAIR"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	// One connection keeps the in-memory database alive and serializes
	// concurrent transactions the way row locks do on postgres.
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("unwrap test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.RunMigrations(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gdb
}

type recordedNote struct {
	kind   string // submit, step_advance, completed, rejected
	docID  string
	emails []string
	reason string
}

// recorderNotifier captures notifications for assertions.
type recorderNotifier struct {
	mu    sync.Mutex
	notes []recordedNote
}

func (r *recorderNotifier) record(kind, docID string, recipients []*models.User, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	emails := make([]string, 0, len(recipients))
	for _, u := range recipients {
		if u != nil {
			emails = append(emails, u.Email)
		}
	}
	r.notes = append(r.notes, recordedNote{kind: kind, docID: docID, emails: emails, reason: reason})
}

func (r *recorderNotifier) NotifySubmit(doc *models.Document, recipients []*models.User) {
	r.record("submit", doc.ID, recipients, "")
}

func (r *recorderNotifier) NotifyStepAdvance(doc *models.Document, actor, next *models.User) {
	r.record("step_advance", doc.ID, []*models.User{next}, "")
}

func (r *recorderNotifier) NotifyCompleted(doc *models.Document, recipient *models.User) {
	r.record("completed", doc.ID, []*models.User{recipient}, "")
}

func (r *recorderNotifier) NotifyRejected(doc *models.Document, recipient *models.User, reason string) {
	r.record("rejected", doc.ID, []*models.User{recipient}, reason)
}

func (r *recorderNotifier) byKind(kind string) []recordedNote {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedNote
	for _, n := range r.notes {
		if n.kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type testEnv struct {
	db       *gorm.DB
	roles    *RoleService
	workflow *WorkflowService
	queries  *DocumentQueries
	notes    *recorderNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	gdb := newTestDB(t)
	logger := zap.NewNop()
	collector := metrics.NewMetricsCollector()
	notes := &recorderNotifier{}

	roles := NewRoleService(gdb, logger, testChairGroup)
	files := storage.NewLocalFileStore(t.TempDir(), logger)
	workflow := NewWorkflowService(gdb, roles, files, notes, logger, collector, config.WorkflowConfig{
		ChairGroup:    testChairGroup,
		CommentMaxLen: 300,
	})

	return &testEnv{
		db:       gdb,
		roles:    roles,
		workflow: workflow,
		queries:  NewDocumentQueries(gdb, logger),
		notes:    notes,
	}
}

func (env *testEnv) createUser(t *testing.T, username string, superuser bool) *models.User {
	t.Helper()
	user := models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
		FullName:     username,
		IsSuperuser:  superuser,
		ActiveStatus: true,
	}
	if err := env.db.Create(&user).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	if err := env.roles.EnsureProfile(user.ID); err != nil {
		t.Fatalf("ensure profile %s: %v", username, err)
	}
	return &user
}

func (env *testEnv) createChair(t *testing.T, username string) *models.User {
	t.Helper()
	user := env.createUser(t, username, false)
	if err := env.roles.AddToGroup(user.ID, testChairGroup); err != nil {
		t.Fatalf("add %s to chair group: %v", username, err)
	}
	return user
}

func (env *testEnv) loadDoc(t *testing.T, docID string) *models.Document {
	t.Helper()
	var doc models.Document
	if err := env.db.First(&doc, "id = ?", docID).Error; err != nil {
		t.Fatalf("load document %s: %v", docID, err)
	}
	return &doc
}

func (env *testEnv) loadLines(t *testing.T, docID string) []models.DocumentLine {
	t.Helper()
	var lines []models.DocumentLine
	if err := env.db.Where("document_id = ?", docID).Order("line_order, id").Find(&lines).Error; err != nil {
		t.Fatalf("load lines for %s: %v", docID, err)
	}
	return lines
}

// assertLineInvariant checks that current_line_order points at the unique
// pending active-role line, or that the document is terminal with none left.
func (env *testEnv) assertLineInvariant(t *testing.T, docID string) {
	t.Helper()
	doc := env.loadDoc(t, docID)
	lines := env.loadLines(t, docID)

	var pendingActive []models.DocumentLine
	for _, line := range lines {
		if (line.Role == models.LineConsult || line.Role == models.LineApprove) &&
			line.Decision == models.DecisionPending {
			pendingActive = append(pendingActive, line)
		}
	}

	if doc.Status == models.StatusRejected {
		return // rejection halts the line wherever it stood
	}
	if len(pendingActive) == 0 {
		if !doc.Terminal() {
			t.Fatalf("doc %s has no pending active line but status %s", docID, doc.Status)
		}
		return
	}

	current := 0
	for _, line := range pendingActive {
		if line.Order == doc.CurrentLineOrder {
			current++
		}
	}
	if current != 1 {
		t.Fatalf("doc %s: expected exactly one pending line at order %d, found %d",
			docID, doc.CurrentLineOrder, current)
	}
	if pendingActive[0].Order != doc.CurrentLineOrder {
		t.Fatalf("doc %s: first pending active line order %d, current_line_order %d",
			docID, pendingActive[0].Order, doc.CurrentLineOrder)
	}
}
