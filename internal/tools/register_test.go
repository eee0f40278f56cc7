package tools

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dreamhive/memgate/internal/mcpserver"
	"github.com/dreamhive/memgate/internal/records"
)

type fakeOps struct {
	lastQuery records.QueryArgs
}

func (f *fakeOps) Query(ctx context.Context, args records.QueryArgs) (string, error) {
	f.lastQuery = args
	return "今日消费：共1笔，合计¥12.00", nil
}

func (f *fakeOps) Save(ctx context.Context, args records.SaveArgs) (string, error) {
	return "已保存", nil
}

func (f *fakeOps) Delete(ctx context.Context, args records.DeleteArgs) (string, error) {
	return "已删除。", nil
}

func (f *fakeOps) Update(ctx context.Context, args records.UpdateArgs) (string, error) {
	return "已标记为完成。", nil
}

func postRPC(t *testing.T, srv *mcpserver.Server, payload string) map[string]any {
	t.Helper()
	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.HandlePost(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRegisterExposesTools(t *testing.T) {
	srv := mcpserver.New(mcpserver.Config{Version: "test"})
	r := New(Config{
		Retriever: &fakeRetriever{},
		Memory:    &fakeMemory{},
		Diary:     &fakeDiary{},
		Ops:       &fakeOps{},
	})
	if err := r.Register(srv); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	resp := postRPC(t, srv, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	result, _ := resp["result"].(map[string]any)
	toolList, _ := result["tools"].([]any)

	names := map[string]bool{}
	for _, raw := range toolList {
		tool, _ := raw.(map[string]any)
		names[tool["name"].(string)] = true
	}
	for _, want := range []string{
		"search_memory", "init_context", "save_diary",
		"query_records", "save_record", "delete_record", "update_record",
	} {
		if !names[want] {
			t.Errorf("tools/list missing %s (got %v)", want, names)
		}
	}
	if names["maps_geocode"] || names["send_sticker"] {
		t.Error("optional tools registered without their dependencies")
	}
}

func TestToolsCallDispatchesQueryRecords(t *testing.T) {
	srv := mcpserver.New(mcpserver.Config{Version: "test"})
	ops := &fakeOps{}
	r := New(Config{Retriever: &fakeRetriever{}, Memory: &fakeMemory{}, Diary: &fakeDiary{}, Ops: ops})
	if err := r.Register(srv); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	resp := postRPC(t, srv, `{"jsonrpc":"2.0","id":2,"method":"tools/call",
		"params":{"name":"query_records","arguments":{"data_type":"expense","period":"today"}}}`)
	if resp["error"] != nil {
		t.Fatalf("tools/call error = %v", resp["error"])
	}
	if ops.lastQuery.DataType != records.TypeExpense {
		t.Errorf("dispatched data_type = %q", ops.lastQuery.DataType)
	}
}

func TestToolsCallValidatesArguments(t *testing.T) {
	srv := mcpserver.New(mcpserver.Config{Version: "test"})
	r := New(Config{Retriever: &fakeRetriever{}, Memory: &fakeMemory{}, Diary: &fakeDiary{}, Ops: &fakeOps{}})
	if err := r.Register(srv); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// update_record requires id and status.
	resp := postRPC(t, srv, `{"jsonrpc":"2.0","id":3,"method":"tools/call",
		"params":{"name":"update_record","arguments":{"data_type":"promise"}}}`)
	result, _ := resp["result"].(map[string]any)
	if result == nil || result["isError"] != true {
		t.Fatalf("expected isError result, got %v", resp)
	}
}
