package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/hopper/internal/observability"
	"github.com/haasonsaas/hopper/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult(userID string, success bool) *models.PlanExecutionResult {
	plan := &models.ExecutionPlan{
		Intent:     models.IntentSystemAction,
		Confidence: 0.8,
		ToolCalls: []models.ToolCall{
			{ToolID: "files", Capability: "read_file", RiskLevel: models.RiskLow},
		},
		Narration:     models.Narration{Message: "reading the file"},
		OriginalQuery: "read my notes",
		UserID:        userID,
		CreatedAt:     time.Now(),
	}
	result := models.NewPlanExecutionResult(plan)
	result.Success = success
	result.FinalMessage = plan.Narration.Message
	result.ToolResults = []models.ToolExecutionResult{
		{
			Success:         success,
			Data:            map[string]any{"bytes": 42.0},
			ToolID:          "files",
			CapabilityName:  "read_file",
			ExecutionTimeMs: 12.5,
		},
	}
	if !success {
		result.ToolResults[0].Error = "permission denied"
		result.ToolResults[0].ErrorCode = "execution_error"
		result.Errors = []string{"call 0 (files.read_file): permission denied"}
	}
	result.MarkCompleted()
	return result
}

func TestRecordAndGetPlan(t *testing.T) {
	s := newTestStore(t)
	ctx := observability.AddExecutionID(context.Background(), "exec-1")

	if err := s.RecordPlan(ctx, sampleResult("user-1", true)); err != nil {
		t.Fatalf("RecordPlan() error: %v", err)
	}

	rec, err := s.GetPlan(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("GetPlan() error: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record, got nil")
	}
	if rec.UserID != "user-1" || rec.Intent != "system_action" || !rec.Success {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Query != "read my notes" || rec.FinalMessage != "reading the file" {
		t.Errorf("query/message not round-tripped: %+v", rec)
	}
	if rec.Risk != "low" || rec.ToolCallCount != 1 {
		t.Errorf("risk/count not round-tripped: %+v", rec)
	}
	if len(rec.ToolResults) != 1 {
		t.Fatalf("expected 1 tool result, got %d", len(rec.ToolResults))
	}
	tr := rec.ToolResults[0]
	if tr.ToolID != "files" || tr.Capability != "read_file" || !tr.Success {
		t.Errorf("unexpected tool result: %+v", tr)
	}
	if tr.Data["bytes"] != 42.0 {
		t.Errorf("data not round-tripped: %v", tr.Data)
	}
}

func TestRecordFailedPlanKeepsErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := observability.AddExecutionID(context.Background(), "exec-2")

	if err := s.RecordPlan(ctx, sampleResult("user-1", false)); err != nil {
		t.Fatalf("RecordPlan() error: %v", err)
	}

	rec, err := s.GetPlan(context.Background(), "exec-2")
	if err != nil {
		t.Fatalf("GetPlan() error: %v", err)
	}
	if rec.Success {
		t.Fatal("expected failed record")
	}
	if len(rec.Errors) != 1 {
		t.Errorf("plan errors not round-tripped: %v", rec.Errors)
	}
	if rec.ToolResults[0].Error != "permission denied" || rec.ToolResults[0].ErrorCode != "execution_error" {
		t.Errorf("tool error not round-tripped: %+v", rec.ToolResults[0])
	}
}

func TestGetPlanMissing(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.GetPlan(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetPlan() error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil for missing record, got %+v", rec)
	}
}

func TestRecordWithoutExecutionIDGeneratesOne(t *testing.T) {
	s := newTestStore(t)

	if err := s.RecordPlan(context.Background(), sampleResult("user-1", true)); err != nil {
		t.Fatalf("RecordPlan() error: %v", err)
	}

	records, err := s.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecent() error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].ExecutionID == "" {
		t.Error("expected a generated execution id")
	}
}

func TestListRecentOrdersNewestFirst(t *testing.T) {
	s := newTestStore(t)

	for i, id := range []string{"old", "mid", "new"} {
		res := sampleResult("user-1", true)
		res.StartedAt = time.Now().Add(time.Duration(i-3) * time.Hour)
		res.CompletedAt = res.StartedAt.Add(time.Second)
		ctx := observability.AddExecutionID(context.Background(), id)
		if err := s.RecordPlan(ctx, res); err != nil {
			t.Fatalf("RecordPlan(%s) error: %v", id, err)
		}
	}

	records, err := s.ListRecent(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListRecent() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ExecutionID != "new" || records[1].ExecutionID != "mid" {
		t.Errorf("unexpected order: %s, %s", records[0].ExecutionID, records[1].ExecutionID)
	}
}

func TestPruneRemovesOldRecords(t *testing.T) {
	s := newTestStore(t)

	old := sampleResult("user-1", true)
	old.StartedAt = time.Now().Add(-48 * time.Hour)
	old.CompletedAt = old.StartedAt.Add(time.Second)
	if err := s.RecordPlan(observability.AddExecutionID(context.Background(), "old"), old); err != nil {
		t.Fatalf("RecordPlan() error: %v", err)
	}
	if err := s.RecordPlan(observability.AddExecutionID(context.Background(), "fresh"), sampleResult("user-1", true)); err != nil {
		t.Fatalf("RecordPlan() error: %v", err)
	}

	pruned, err := s.Prune(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned, got %d", pruned)
	}

	if rec, _ := s.GetPlan(context.Background(), "old"); rec != nil {
		t.Error("old record should be gone")
	}
	if rec, _ := s.GetPlan(context.Background(), "fresh"); rec == nil {
		t.Error("fresh record should survive")
	}
}
