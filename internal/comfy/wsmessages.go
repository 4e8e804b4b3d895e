package comfy

import (
	"encoding/json"
	"log/slog"
)

type wsMessage struct {
	Type string
	Data any
}

func (m *wsMessage) UnmarshalJSON(b []byte) error {
	// Unmarshal into an anonymous envelope first to avoid infinite recursion.
	var temp struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	m.Type = temp.Type

	switch m.Type {
	case "status":
		m.Data = &statusData{}
	case "execution_start":
		m.Data = &executionStartData{}
	case "execution_cached":
		m.Data = &executionCachedData{}
	case "executing":
		m.Data = &executingData{}
	case "progress":
		m.Data = &progressData{}
	case "executed":
		m.Data = &executedData{}
	case "execution_success":
		m.Data = &executionSuccessData{}
	case "execution_interrupted":
		m.Data = &executionInterruptedData{}
	case "execution_error":
		m.Data = &executionErrorData{}
	default:
		// progress_state, crystools.monitor and friends; nothing we demux on
		m.Data = nil
	}

	if m.Data != nil && len(temp.Data) > 0 {
		if err := json.Unmarshal(temp.Data, m.Data); err != nil {
			return err
		}
	}

	return nil
}

// {"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 1}}}}
type statusData struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
}

// {"type": "execution_start", "data": {"prompt_id": "ed986d60-..."}}
type executionStartData struct {
	PromptID string `json:"prompt_id"`
}

type executionCachedData struct {
	Nodes    []any  `json:"nodes"`
	PromptID string `json:"prompt_id"`
}

// {"type": "executing", "data": {"node": "12", "prompt_id": "ed986d60-..."}}
// A null node means the final node was processed.
type executingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

// {"type": "progress", "data": {"value": 1, "max": 20}}
type progressData struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	Node     string `json:"node"`
	PromptID string `json:"prompt_id"`
}

// {"type": "executed", "data": {"node": "19", "output": {"images": [{"filename": "ComfyUI_00046_.png", "subfolder": "", "type": "output"}]}, "prompt_id": "ed986d60-..."}}
// Each output node gets its own "executed" message. The output map values are
// heterogeneous (file dicts for images/gifs, bare strings for text), so it is
// decoded by hand and only file outputs are kept.
type executedData struct {
	Node     string `json:"node"`
	PromptID string `json:"prompt_id"`
	Outputs  []OutputRef
}

func (d *executedData) UnmarshalJSON(b []byte) error {
	var temp struct {
		Node     string                       `json:"node"`
		Output   map[string][]json.RawMessage `json:"output"`
		PromptID string                       `json:"prompt_id"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	d.Node = temp.Node
	d.PromptID = temp.PromptID
	d.Outputs = nil

	for key, entries := range temp.Output {
		for _, raw := range entries {
			var file struct {
				Filename  string `json:"filename"`
				Subfolder string `json:"subfolder"`
				Type      string `json:"type"`
			}
			if err := json.Unmarshal(raw, &file); err != nil || file.Filename == "" {
				// text or other non-file output; nothing to collect from storage
				slog.Debug("skipping non-file output entry", "node", temp.Node, "key", key)
				continue
			}
			d.Outputs = append(d.Outputs, OutputRef{
				NodeID:    temp.Node,
				Filename:  file.Filename,
				Subfolder: file.Subfolder,
				Type:      file.Type,
			})
		}
	}

	return nil
}

type executionSuccessData struct {
	PromptID string `json:"prompt_id"`
}

// {"type": "execution_interrupted", "data": {"prompt_id": "dc7093d7-...", "node_id": "19", "node_type": "SaveImage", "executed": ["5", "17", "10", "11"]}}
type executionInterruptedData struct {
	PromptID string   `json:"prompt_id"`
	NodeID   string   `json:"node_id"`
	NodeType string   `json:"node_type"`
	Executed []string `json:"executed"`
}

type executionErrorData struct {
	PromptID         string   `json:"prompt_id"`
	NodeID           string   `json:"node_id"`
	NodeType         string   `json:"node_type"`
	Executed         []string `json:"executed"`
	ExceptionMessage string   `json:"exception_message"`
	ExceptionType    string   `json:"exception_type"`
	Traceback        []string `json:"traceback"`
}
