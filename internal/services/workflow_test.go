package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kim130727/eapproval/internal/db/models"
)

func TestCreateDocumentBuildsOrderedLine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.createChair(t, "creator")
	consultant := env.createChair(t, "consultant")
	approver1 := env.createChair(t, "approver1")
	approver2 := env.createChair(t, "approver2")
	receiver := env.createChair(t, "receiver")

	doc, err := env.workflow.CreateDocument(ctx, creator, CreateDocumentInput{
		Title:         "budget plan",
		Content:       "quarterly numbers",
		ConsultantIDs: []uint{consultant.ID},
		ApproverIDs:   []uint{approver1.ID, approver2.ID},
		ReceiverIDs:   []uint{receiver.ID},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.Status != models.StatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", doc.Status)
	}
	if doc.CurrentLineOrder != 1 {
		t.Fatalf("current_line_order = %d, want 1", doc.CurrentLineOrder)
	}

	lines := env.loadLines(t, doc.ID)
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}
	want := []struct {
		role   models.LineRole
		order  int
		userID uint
	}{
		{models.LineConsult, 1, consultant.ID},
		{models.LineApprove, 2, approver1.ID},
		{models.LineApprove, 3, approver2.ID},
		{models.LineReceive, 4, receiver.ID},
	}
	for i, w := range want {
		if lines[i].Role != w.role || lines[i].Order != w.order || lines[i].UserID != w.userID {
			t.Fatalf("line %d = {%s %d user=%d}, want {%s %d user=%d}",
				i, lines[i].Role, lines[i].Order, lines[i].UserID, w.role, w.order, w.userID)
		}
		if lines[i].Decision != models.DecisionPending {
			t.Fatalf("line %d decision = %s, want PENDING", i, lines[i].Decision)
		}
	}
	env.assertLineInvariant(t, doc.ID)

	submits := env.notes.byKind("submit")
	if len(submits) != 1 {
		t.Fatalf("got %d submit notifications, want 1", len(submits))
	}
	if len(submits[0].emails) != 3 {
		t.Fatalf("submit went to %d recipients, want 3 active reviewers", len(submits[0].emails))
	}
}

func TestCreateDocumentApproverOrderTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.createChair(t, "creator")
	a := env.createChair(t, "alice")
	b := env.createChair(t, "bob")
	c := env.createChair(t, "carol")

	doc, err := env.workflow.CreateDocument(ctx, creator, CreateDocumentInput{
		Title:         "reordered",
		ApproverIDs:   []uint{a.ID, b.ID, c.ID},
		ApproverOrder: []uint{c.ID, a.ID, b.ID},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	lines := env.loadLines(t, doc.ID)
	got := []uint{lines[0].UserID, lines[1].UserID, lines[2].UserID}
	want := []uint{c.ID, a.ID, b.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("approver order = %v, want %v", got, want)
		}
	}
}

func TestReconcileApproverOrder(t *testing.T) {
	cases := []struct {
		name     string
		selected []uint
		tokens   []uint
		want     []uint
	}{
		{"no tokens", []uint{1, 2, 3}, nil, []uint{1, 2, 3}},
		{"full reorder", []uint{1, 2, 3}, []uint{3, 1, 2}, []uint{3, 1, 2}},
		{"partial tokens append rest", []uint{1, 2, 3}, []uint{3}, []uint{3, 1, 2}},
		{"foreign tokens dropped", []uint{1, 2}, []uint{9, 2, 1}, []uint{2, 1}},
		{"duplicate tokens collapse", []uint{1, 2}, []uint{2, 2, 1}, []uint{2, 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := reconcileApproverOrder(tc.selected, tc.tokens)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestCreateDocumentRejectsNonChairSelectee(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.createChair(t, "creator")
	outsider := env.createUser(t, "outsider", false)

	_, err := env.workflow.CreateDocument(ctx, creator, CreateDocumentInput{
		Title:       "bad selection",
		ApproverIDs: []uint{outsider.ID},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	_, err = env.workflow.CreateDocument(ctx, creator, CreateDocumentInput{
		Title:       "unknown selection",
		ApproverIDs: []uint{99999},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation for unknown user", err)
	}
}

func TestCreateDocumentDedupesSelections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.createChair(t, "creator")
	a := env.createChair(t, "alice")

	doc, err := env.workflow.CreateDocument(ctx, creator, CreateDocumentInput{
		Title:       "dupes",
		ApproverIDs: []uint{a.ID, a.ID, a.ID},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if lines := env.loadLines(t, doc.ID); len(lines) != 1 {
		t.Fatalf("got %d lines, want 1 after dedupe", len(lines))
	}
}

func TestImmediateCompletionWithoutActiveLines(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.createChair(t, "creator")
	receiver := env.createChair(t, "receiver")

	doc, err := env.workflow.CreateDocument(ctx, creator, CreateDocumentInput{
		Title:       "fyi only",
		ReceiverIDs: []uint{receiver.ID},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", doc.Status)
	}

	if submits := env.notes.byKind("submit"); len(submits) != 0 {
		t.Fatalf("got %d submit notifications, want 0 with no active reviewers", len(submits))
	}
	completed := env.notes.byKind("completed")
	if len(completed) != 1 {
		t.Fatalf("got %d completed notifications, want 1", len(completed))
	}
	if completed[0].emails[0] != creator.Email {
		t.Fatalf("completion notice went to %s, want creator", completed[0].emails[0])
	}
}

func TestAdvanceWalksFullLine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.createChair(t, "creator")
	consultant := env.createChair(t, "consultant")
	approver := env.createChair(t, "approver")
	receiver := env.createChair(t, "receiver")

	doc, err := env.workflow.CreateDocument(ctx, creator, CreateDocumentInput{
		Title:         "two step",
		ConsultantIDs: []uint{consultant.ID},
		ApproverIDs:   []uint{approver.ID},
		ReceiverIDs:   []uint{receiver.ID},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	doc, err = env.workflow.Advance(ctx, doc.ID, consultant, "looks fine")
	if err != nil {
		t.Fatalf("consultant Advance: %v", err)
	}
	if doc.Status != models.StatusInProgress || doc.CurrentLineOrder != 2 {
		t.Fatalf("after consult: status=%s order=%d, want IN_PROGRESS/2", doc.Status, doc.CurrentLineOrder)
	}
	env.assertLineInvariant(t, doc.ID)

	steps := env.notes.byKind("step_advance")
	if len(steps) != 1 || steps[0].emails[0] != approver.Email {
		t.Fatalf("step_advance notifications = %+v, want one to approver", steps)
	}

	doc, err = env.workflow.Advance(ctx, doc.ID, approver, "approved")
	if err != nil {
		t.Fatalf("approver Advance: %v", err)
	}
	if doc.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED after last approver", doc.Status)
	}

	lines := env.loadLines(t, doc.ID)
	if lines[0].Decision != models.DecisionApproved || lines[0].Comment != "looks fine" {
		t.Fatalf("consult line = %s/%q", lines[0].Decision, lines[0].Comment)
	}
	if lines[0].ActedAt == nil {
		t.Fatal("consult line acted_at not set")
	}
	if lines[2].Decision != models.DecisionPending {
		t.Fatalf("receive line decision = %s, want PENDING until read", lines[2].Decision)
	}

	completed := env.notes.byKind("completed")
	if len(completed) != 1 || completed[0].emails[0] != creator.Email {
		t.Fatalf("completed notifications = %+v, want one to creator", completed)
	}
}

func TestAdvancePermissionDenied(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.createChair(t, "creator")
	approver := env.createChair(t, "approver")
	bystander := env.createChair(t, "bystander")

	doc, err := env.workflow.CreateDocument(ctx, creator, CreateDocumentInput{
		Title:       "guarded",
		ApproverIDs: []uint{approver.ID},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	if _, err := env.workflow.Advance(ctx, doc.ID, bystander, ""); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if got := env.loadDoc(t, doc.ID); got.Status != models.StatusInProgress || got.CurrentLineOrder != 1 {
		t.Fatalf("denied advance mutated document: status=%s order=%d", got.Status, got.CurrentLineOrder)
	}
}

func TestAdvanceSuperuserOverride(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.createChair(t, "creator")
	approver := env.createChair(t, "approver")
	admin := env.createUser(t, "admin", true)

	doc, err := env.workflow.CreateDocument(ctx, creator, CreateDocumentInput{
		Title:       "admin steps in",
		ApproverIDs: []uint{approver.ID},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	doc, err = env.workflow.Advance(ctx, doc.ID, admin, "acting on behalf")
	if err != nil {
		t.Fatalf("superuser Advance: %v", err)
	}
	if doc.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", doc.Status)
	}
}

func TestAdvanceOnTerminalDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.createChair(t, "creator")
	approver := env.createChair(t, "approver")

	doc, err := env.workflow.CreateDocument(ctx, creator, CreateDocumentInput{
		Title:       "short line",
		ApproverIDs: []uint{approver.ID},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := env.workflow.Advance(ctx, doc.ID, approver, ""); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	got, err := env.workflow.Advance(ctx, doc.ID, approver, "again")
	if !errors.Is(err, ErrNoPendingLine) {
		t.Fatalf("err = %v, want ErrNoPendingLine", err)
	}
	if got == nil || got.Status != models.StatusCompleted {
		t.Fatalf("benign failure should return the document in its current state, got %+v", got)
	}
}

func TestAdvanceCommentTruncation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.createChair(t, "creator")
	approver := env.createChair(t, "approver")

	doc, err := env.workflow.CreateDocument(ctx, creator, CreateDocumentInput{
		Title:       "long comment",
		ApproverIDs: []uint{approver.ID},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	long := strings.Repeat("한", 500)
	if _, err := env.workflow.Advance(ctx, doc.ID, approver, long); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	lines := env.loadLines(t, doc.ID)
	if got := len([]rune(lines[0].Comment)); got != 300 {
		t.Fatalf("stored comment length = %d runes, want 300", got)
	}
}

func TestAdvanceAfterRoleLoss(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.createChair(t, "creator")
	approver := env.createChair(t, "approver")

	doc, err := env.workflow.CreateDocument(ctx, creator, CreateDocumentInput{
		Title:       "role revoked mid flight",
		ApproverIDs: []uint{approver.ID},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	// Privilege gates selection at creation time only. An assignee who has
	// since left the chair group still owns the line.
	if err := env.roles.RemoveFromGroup(approver.ID, testChairGroup); err != nil {
		t.Fatalf("RemoveFromGroup: %v", err)
	}
	doc, err = env.workflow.Advance(ctx, doc.ID, approver, "still mine")
	if err != nil {
		t.Fatalf("Advance after role loss: %v", err)
	}
	if doc.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", doc.Status)
	}
}

func TestRejectTerminatesDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.createChair(t, "creator")
	consultant := env.createChair(t, "consultant")
	approver := env.createChair(t, "approver")
	receiver := env.createChair(t, "receiver")

	doc, err := env.workflow.CreateDocument(ctx, creator, CreateDocumentInput{
		Title:         "doomed",
		ConsultantIDs: []uint{consultant.ID},
		ApproverIDs:   []uint{approver.ID},
		ReceiverIDs:   []uint{receiver.ID},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	doc, err = env.workflow.Reject(ctx, doc.ID, consultant, "missing figures")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if doc.Status != models.StatusRejected {
		t.Fatalf("status = %s, want REJECTED", doc.Status)
	}

	lines := env.loadLines(t, doc.ID)
	if lines[0].Decision != models.DecisionRejected || lines[0].Comment != "missing figures" {
		t.Fatalf("rejecting line = %s/%q", lines[0].Decision, lines[0].Comment)
	}
	// Downstream lines never get acted on.
	if lines[1].Decision != models.DecisionPending || lines[2].Decision != models.DecisionPending {
		t.Fatalf("downstream lines = %s/%s, want PENDING/PENDING", lines[1].Decision, lines[2].Decision)
	}

	rejected := env.notes.byKind("rejected")
	if len(rejected) != 1 || rejected[0].emails[0] != creator.Email || rejected[0].reason != "missing figures" {
		t.Fatalf("rejected notifications = %+v, want one to creator with reason", rejected)
	}

	if _, err := env.workflow.Advance(ctx, doc.ID, approver, ""); !errors.Is(err, ErrNoPendingLine) {
		t.Fatalf("advance on rejected doc: err = %v, want ErrNoPendingLine", err)
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.createChair(t, "creator")
	approver := env.createChair(t, "approver")
	receiver := env.createChair(t, "receiver")

	doc, err := env.workflow.CreateDocument(ctx, creator, CreateDocumentInput{
		Title:       "readable",
		ApproverIDs: []uint{approver.ID},
		ReceiverIDs: []uint{receiver.ID},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := env.workflow.Advance(ctx, doc.ID, approver, ""); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if err := env.workflow.MarkRead(ctx, doc.ID, receiver); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	lines := env.loadLines(t, doc.ID)
	if lines[1].Decision != models.DecisionRead {
		t.Fatalf("receive line decision = %s, want READ", lines[1].Decision)
	}
	first := lines[1].ActedAt
	if first == nil {
		t.Fatal("receive line acted_at not set")
	}

	if err := env.workflow.MarkRead(ctx, doc.ID, receiver); err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}
	lines = env.loadLines(t, doc.ID)
	if !lines[1].ActedAt.Equal(*first) {
		t.Fatal("second MarkRead moved acted_at")
	}

	// No receive line for this user: silently a no-op.
	if err := env.workflow.MarkRead(ctx, doc.ID, approver); err != nil {
		t.Fatalf("MarkRead without a receive line: %v", err)
	}
}

func TestConcurrentAdvanceSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.createChair(t, "creator")
	approver := env.createChair(t, "approver")
	admin := env.createUser(t, "admin", true)

	doc, err := env.workflow.CreateDocument(ctx, creator, CreateDocumentInput{
		Title:       "contested",
		ApproverIDs: []uint{approver.ID},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	actors := []*models.User{approver, admin}
	results := make([]error, len(actors))
	var wg sync.WaitGroup
	for i, actor := range actors {
		wg.Add(1)
		go func(i int, actor *models.User) {
			defer wg.Done()
			_, results[i] = env.workflow.Advance(ctx, doc.ID, actor, "race")
		}(i, actor)
	}
	wg.Wait()

	var wins, benign int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrNoPendingLine):
			benign++
		default:
			t.Fatalf("unexpected advance error: %v", err)
		}
	}
	if wins != 1 || benign != 1 {
		t.Fatalf("wins=%d benign=%d, want exactly one of each", wins, benign)
	}

	got := env.loadDoc(t, doc.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	if completed := env.notes.byKind("completed"); len(completed) != 1 {
		t.Fatalf("got %d completed notifications, want 1", len(completed))
	}
}

func TestCreateDocumentStoresAttachments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.createChair(t, "creator")
	approver := env.createChair(t, "approver")

	payload := []byte("quarterly report body")
	doc, err := env.workflow.CreateDocument(ctx, creator, CreateDocumentInput{
		Title:       "with file",
		ApproverIDs: []uint{approver.ID},
		Attachments: []AttachmentInput{
			{FileName: "report.pdf", ContentType: "application/pdf", Data: payload},
		},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	var atts []models.Attachment
	if err := env.db.Where("document_id = ?", doc.ID).Find(&atts).Error; err != nil {
		t.Fatalf("load attachments: %v", err)
	}
	if len(atts) != 1 {
		t.Fatalf("got %d attachments, want 1", len(atts))
	}
	if atts[0].FileName != "report.pdf" || atts[0].UploadedByID != creator.ID {
		t.Fatalf("attachment row = %+v", atts[0])
	}

	data, err := env.workflow.files.Open(atts[0].StorePath)
	if err != nil {
		t.Fatalf("open stored attachment: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("stored bytes = %q, want %q", data, payload)
	}
}
