package model

import (
	"testing"
	"time"
)

func TestBeforeOrdersBySentAtThenID(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := &Message{ID: "a", SentAt: at}
	b := &Message{ID: "b", SentAt: at}
	c := &Message{ID: "c", SentAt: at.Add(time.Second)}

	if !a.Before(b) || b.Before(a) {
		t.Fatal("equal timestamps must tie-break on id")
	}
	if !a.Before(c) || c.Before(a) {
		t.Fatal("earlier timestamp must sort first")
	}
}

func TestDeliveryAtLeast(t *testing.T) {
	cases := []struct {
		d, other DeliveryState
		want     bool
	}{
		{DeliverySent, DeliverySent, true},
		{DeliverySent, DeliveryDelivered, false},
		{DeliveryDelivered, DeliverySent, true},
		{DeliveryRead, DeliveryDelivered, true},
		{DeliveryDelivered, DeliveryRead, false},
	}
	for _, tc := range cases {
		if got := tc.d.AtLeast(tc.other); got != tc.want {
			t.Fatalf("%s.AtLeast(%s) = %v, want %v", tc.d, tc.other, got, tc.want)
		}
	}
}

func TestTombstoned(t *testing.T) {
	m := Message{Deleted: true, Body: "leftover"}
	if !m.Tombstoned() {
		t.Fatal("deleted message not tombstoned")
	}
	live := Message{Body: "hi"}
	if live.Tombstoned() {
		t.Fatal("live message reported tombstoned")
	}
}
