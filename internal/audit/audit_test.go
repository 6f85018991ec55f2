package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/nhle/inboxdigest/internal/model"
)

func TestRecordEvictsOldest(t *testing.T) {
	l := New(3)
	for i := 0; i < 5; i++ {
		l.Record("UPSERT", fmt.Sprintf("m%d", i), nil, "")
	}

	got := l.Entries()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"m2", "m3", "m4"} {
		if got[i].EmailID != want {
			t.Errorf("entry %d = %s, want %s", i, got[i].EmailID, want)
		}
	}
}

func TestRecordError(t *testing.T) {
	l := New(0)
	l.Record("SOFT_DELETE", "m1", errors.New("disk full"), "")
	l.Record("CLEAR_ALL", "", errors.New("locked"), "wiping")

	got := l.Entries()
	if got[0].Result != model.AuditError || got[0].Details != "disk full" {
		t.Errorf("unexpected entry %+v", got[0])
	}
	if got[1].Details != "wiping: locked" {
		t.Errorf("Details = %q", got[1].Details)
	}
	if got[0].ID == "" || got[0].ID == got[1].ID {
		t.Error("entries need unique ids")
	}
}

func TestExportAndReset(t *testing.T) {
	l := New(10)
	l.Record("UPSERT", "m1", nil, "")

	b, err := l.Export()
	if err != nil {
		t.Fatal(err)
	}
	var decoded []model.AuditLogEntry
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 1 || decoded[0].Result != model.AuditSuccess {
		t.Errorf("unexpected export %s", b)
	}

	l.Reset()
	if l.Len() != 0 {
		t.Errorf("Len after Reset = %d", l.Len())
	}
}
