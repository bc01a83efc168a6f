package obs

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
)

func TestLogRequestStampsServiceName(t *testing.T) {
	var buf bytes.Buffer
	Logger().SetOutput(&buf)
	defer Logger().SetOutput(os.Stdout)

	entry := map[string]any{"path": "/v1/credits", "status": 201}
	LogRequest(entry)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["service"] != "udhaar-api" {
		t.Fatalf("expected service field, got %+v", line)
	}
	if line["path"] != "/v1/credits" {
		t.Fatalf("caller fields lost: %+v", line)
	}
	if _, ok := entry["service"]; ok {
		t.Fatalf("caller entry was mutated: %+v", entry)
	}
}

func TestLogRequestKeepsCallerServiceField(t *testing.T) {
	var buf bytes.Buffer
	Logger().SetOutput(&buf)
	defer Logger().SetOutput(os.Stdout)

	LogRequest(map[string]any{"service": "udhaar-worker"})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["service"] != "udhaar-worker" {
		t.Fatalf("caller service field overridden: %+v", line)
	}
}
