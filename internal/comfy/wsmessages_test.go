package comfy

import (
	"encoding/json"
	"testing"
)

func TestDecodeStatusMessage(t *testing.T) {
	raw := `{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 1}}}}`

	var msg wsMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	data, ok := msg.Data.(*statusData)
	if !ok {
		t.Fatalf("Expected *statusData, got %T", msg.Data)
	}
	if data.Status.ExecInfo.QueueRemaining != 1 {
		t.Errorf("Expected queue_remaining 1, got %d", data.Status.ExecInfo.QueueRemaining)
	}
}

func TestDecodeExecutingMessage(t *testing.T) {
	raw := `{"type": "executing", "data": {"node": "12", "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}`

	var msg wsMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	data, ok := msg.Data.(*executingData)
	if !ok {
		t.Fatalf("Expected *executingData, got %T", msg.Data)
	}
	if data.Node == nil || *data.Node != "12" {
		t.Errorf("Expected node \"12\", got %v", data.Node)
	}
	if data.PromptID != "ed986d60-2a27-4d28-8871-2fdb36582902" {
		t.Errorf("Unexpected prompt_id %s", data.PromptID)
	}
}

func TestDecodeExecutingMessageFinalNode(t *testing.T) {
	raw := `{"type": "executing", "data": {"node": null, "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}`

	var msg wsMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	data := msg.Data.(*executingData)
	if data.Node != nil {
		t.Errorf("Expected nil node for final-node message, got %q", *data.Node)
	}
}

func TestDecodeExecutedMessage(t *testing.T) {
	raw := `{"type": "executed", "data": {"node": "19", "output": {"images": [{"filename": "ComfyUI_00046_.png", "subfolder": "", "type": "output"}]}, "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}`

	var msg wsMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	data, ok := msg.Data.(*executedData)
	if !ok {
		t.Fatalf("Expected *executedData, got %T", msg.Data)
	}
	if len(data.Outputs) != 1 {
		t.Fatalf("Expected 1 output ref, got %d", len(data.Outputs))
	}
	ref := data.Outputs[0]
	if ref.NodeID != "19" || ref.Filename != "ComfyUI_00046_.png" || ref.Type != "output" {
		t.Errorf("Unexpected output ref: %+v", ref)
	}
}

func TestDecodeExecutedMessageSkipsTextOutputs(t *testing.T) {
	// text nodes emit bare strings in the output map; only file outputs are
	// collectable from engine storage
	raw := `{"type": "executed", "data": {"node": "7", "output": {"text": ["hello"], "images": [{"filename": "a.png", "subfolder": "sub", "type": "temp"}]}, "prompt_id": "p1"}}`

	var msg wsMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	data := msg.Data.(*executedData)
	if len(data.Outputs) != 1 {
		t.Fatalf("Expected 1 file output, got %d", len(data.Outputs))
	}
	if data.Outputs[0].Subfolder != "sub" {
		t.Errorf("Expected subfolder preserved, got %q", data.Outputs[0].Subfolder)
	}
}

func TestDecodeExecutionErrorMessage(t *testing.T) {
	raw := `{"type": "execution_error", "data": {"prompt_id": "p1", "node_id": "19", "node_type": "SaveImage", "executed": ["5"], "exception_message": "out of memory", "exception_type": "RuntimeError", "traceback": ["line 1", "line 2"]}}`

	var msg wsMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	data, ok := msg.Data.(*executionErrorData)
	if !ok {
		t.Fatalf("Expected *executionErrorData, got %T", msg.Data)
	}
	if data.ExceptionMessage != "out of memory" {
		t.Errorf("Expected exception message preserved, got %q", data.ExceptionMessage)
	}
	if data.ExceptionType != "RuntimeError" || data.NodeType != "SaveImage" {
		t.Errorf("Unexpected error payload: %+v", data)
	}
	if len(data.Traceback) != 2 {
		t.Errorf("Expected 2 traceback lines, got %d", len(data.Traceback))
	}
}

func TestDecodeUnknownMessageType(t *testing.T) {
	raw := `{"type": "crystools.monitor", "data": {"cpu": 12}}`

	var msg wsMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Unknown message types should not error: %v", err)
	}
	if msg.Data != nil {
		t.Errorf("Expected nil data for unknown type, got %T", msg.Data)
	}
}
