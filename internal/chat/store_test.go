package chat

import (
	"testing"
	"time"

	"github.com/astromatch/chatkit/internal/model"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func textMsg(id string, at time.Time, body string) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: "conv1",
		SenderRole:     model.RoleCounterpart,
		Kind:           model.KindText,
		Body:           body,
		SentAt:         at,
		Delivery:       model.DeliverySent,
	}
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestUpsertOrdersBySentAtThenID(t *testing.T) {
	// Same final state regardless of arrival order.
	msgs := []model.Message{
		textMsg("c", base.Add(2*time.Second), "third"),
		textMsg("a", base, "first"),
		textMsg("b", base.Add(time.Second), "second"),
	}
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	for _, perm := range perms {
		s := NewStore()
		for _, i := range perm {
			s.UpsertMessage("conv1", msgs[i])
		}
		got := ids(s.Messages("conv1"))
		want := []string{"a", "b", "c"}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("perm %v: order = %v, want %v", perm, got, want)
			}
		}
	}
}

func TestUpsertTiesBreakOnID(t *testing.T) {
	s := NewStore()
	s.UpsertMessage("conv1", textMsg("b", base, "x"))
	s.UpsertMessage("conv1", textMsg("a", base, "y"))

	got := ids(s.Messages("conv1"))
	if got[0] != "a" || got[1] != "b" {
		t.Fatalf("equal timestamps: order = %v, want [a b]", got)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	s := NewStore()
	m := textMsg("a", base, "hello")

	if !s.UpsertMessage("conv1", m) {
		t.Fatal("first upsert should report inserted")
	}
	if s.UpsertMessage("conv1", m) {
		t.Fatal("second upsert should not report inserted")
	}
	msgs := s.Messages("conv1")
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	if msgs[0].Body != "hello" {
		t.Fatalf("body = %q, want %q", msgs[0].Body, "hello")
	}
}

func TestUpsertKeepsTombstone(t *testing.T) {
	s := NewStore()
	m := textMsg("a", base, "hello")
	s.UpsertMessage("conv1", m)
	s.PatchMessage("a", func(mm *model.Message) {
		mm.Deleted = true
		mm.Body = ""
	})

	// A replayed pre-delete copy must not resurrect the content.
	s.UpsertMessage("conv1", m)

	got, _ := s.Message("a")
	if !got.Deleted {
		t.Fatal("tombstone was undone by replay")
	}
	if got.Body != "" {
		t.Fatalf("tombstoned body = %q, want empty", got.Body)
	}
}

func TestUpsertKeepsDeliveryProgress(t *testing.T) {
	s := NewStore()
	m := textMsg("a", base, "hello")
	m.Delivery = model.DeliveryRead
	s.UpsertMessage("conv1", m)

	stale := textMsg("a", base, "hello")
	stale.Delivery = model.DeliverySent
	s.UpsertMessage("conv1", stale)

	got, _ := s.Message("a")
	if got.Delivery != model.DeliveryRead {
		t.Fatalf("delivery regressed to %q", got.Delivery)
	}
}

func TestUpsertKeepsNewerEdit(t *testing.T) {
	s := NewStore()
	edited := base.Add(time.Minute)
	m := textMsg("a", base, "new body")
	m.EditedAt = &edited
	s.UpsertMessage("conv1", m)

	stale := textMsg("a", base, "old body")
	s.UpsertMessage("conv1", stale)

	got, _ := s.Message("a")
	if got.Body != "new body" {
		t.Fatalf("body = %q, stale replay reverted an edit", got.Body)
	}
	if got.EditedAt == nil || !got.EditedAt.Equal(edited) {
		t.Fatalf("editedAt = %v, want %v", got.EditedAt, edited)
	}
}

func TestReplaceTemporaryID(t *testing.T) {
	s := NewStore()
	s.UpsertMessage("conv1", textMsg("a", base, "before"))
	tmp := textMsg("tmp-1", base.Add(time.Second), "mine")
	tmp.SenderRole = model.RoleSelf
	tmp.Pending = true
	s.UpsertMessage("conv1", tmp)

	if !s.ReplaceTemporaryID("tmp-1", "srv-1", base.Add(2*time.Second)) {
		t.Fatal("replace reported failure")
	}

	msgs := s.Messages("conv1")
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	got := msgs[1]
	if got.ID != "srv-1" {
		t.Fatalf("id = %q, want srv-1", got.ID)
	}
	if got.Pending {
		t.Fatal("message still pending after reconciliation")
	}
	if s.Contains("tmp-1") {
		t.Fatal("temporary id still indexed")
	}
}

func TestReplaceTemporaryIDDropsDuplicateEcho(t *testing.T) {
	s := NewStore()
	tmp := textMsg("tmp-1", base, "mine")
	tmp.SenderRole = model.RoleSelf
	tmp.Pending = true
	s.UpsertMessage("conv1", tmp)

	// The realtime echo with the final id lands before the REST
	// response is processed.
	echo := textMsg("srv-1", base.Add(time.Second), "mine")
	echo.SenderRole = model.RoleSelf
	s.UpsertMessage("conv1", echo)

	s.ReplaceTemporaryID("tmp-1", "srv-1", base.Add(time.Second))

	msgs := s.Messages("conv1")
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1 (no duplicate)", len(msgs))
	}
	if msgs[0].ID != "srv-1" {
		t.Fatalf("id = %q, want srv-1", msgs[0].ID)
	}
}

func TestHideForMe(t *testing.T) {
	s := NewStore()
	s.UpsertMessage("conv1", textMsg("a", base, "keep"))
	s.UpsertMessage("conv1", textMsg("b", base.Add(time.Second), "hide"))

	s.HideForMe("b")

	msgs := s.Messages("conv1")
	if len(msgs) != 1 || msgs[0].ID != "a" {
		t.Fatalf("messages = %v, want only a", ids(msgs))
	}

	// A history re-ingest must not resurrect the hidden message.
	s.UpsertMessage("conv1", textMsg("b", base.Add(time.Second), "hide"))
	if len(s.Messages("conv1")) != 1 {
		t.Fatal("hidden message came back after re-ingest")
	}
}

func TestPatchUnknownIDIsNoop(t *testing.T) {
	s := NewStore()
	if s.PatchMessage("ghost", func(m *model.Message) { m.Body = "boo" }) {
		t.Fatal("patch of unknown id reported applied")
	}
}

func TestSnapshotSuppressesTombstonedContent(t *testing.T) {
	s := NewStore()
	m := textMsg("a", base, "secret")
	m.Reactions = map[string][]string{"❤️": {"u2"}}
	s.UpsertMessage("conv1", m)
	s.PatchMessage("a", func(mm *model.Message) { mm.Deleted = true })

	got, _ := s.Message("a")
	if got.Body != "" || got.MediaRef != "" || got.Reactions != nil {
		t.Fatalf("tombstone leaked content: %+v", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	m := textMsg("a", base, "hello")
	m.Reactions = map[string][]string{"👍": {"u2"}}
	s.UpsertMessage("conv1", m)

	snap := s.Messages("conv1")
	snap[0].Body = "mutated"
	snap[0].Reactions["👍"] = append(snap[0].Reactions["👍"], "u3")

	got, _ := s.Message("a")
	if got.Body != "hello" {
		t.Fatal("snapshot mutation reached the store")
	}
	if len(got.Reactions["👍"]) != 1 {
		t.Fatal("reaction slice shared with snapshot")
	}
}
