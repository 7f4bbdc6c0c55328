package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meden/biosync/internal/model"
	"github.com/meden/biosync/internal/terminal"
)

func TestDriverRegistered(t *testing.T) {
	dialer, err := terminal.Open("memory")
	if err != nil {
		t.Fatalf("exp registered driver got %v", err)
	}

	if _, ok := dialer.(*Fleet); !ok {
		t.Fatalf("exp *Fleet got %T", dialer)
	}
}

func TestStateSurvivesSessions(t *testing.T) {
	fleet := NewFleet()
	dev := model.Device{ID: "m1"}

	sess, err := fleet.Dial(context.Background(), dev)
	if err != nil {
		t.Fatal(err)
	}

	if err = sess.CreateUser(model.TerminalUser{UserID: "101", Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
	if err = sess.WriteTemplate("101", 1, []byte("blob")); err != nil {
		t.Fatal(err)
	}
	if err = sess.Disconnect(); err != nil {
		t.Fatal(err)
	}

	sess, err = fleet.Dial(context.Background(), dev)
	if err != nil {
		t.Fatal(err)
	}

	users, err := sess.GetUsers()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].UserID != "101" {
		t.Fatalf("exp user 101 got %v", users)
	}
}

func TestSeedAndClear(t *testing.T) {
	fleet := NewFleet()
	dev := model.Device{ID: "m1"}

	punch := model.AttendanceRecord{
		UserID:    "101",
		Timestamp: time.Date(2025, time.March, 20, 9, 0, 0, 0, time.Local),
	}
	fleet.Seed("m1", punch)

	sess, err := fleet.Dial(context.Background(), dev)
	if err != nil {
		t.Fatal(err)
	}

	records, err := sess.FetchAttendance()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].UserID != "101" {
		t.Fatalf("exp seeded punch got %v", records)
	}

	if err = sess.ClearAttendance(); err != nil {
		t.Fatal(err)
	}

	records, err = sess.FetchAttendance()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("exp empty log after clear got %v", records)
	}
}

func TestProtocolRefusals(t *testing.T) {
	fleet := NewFleet()

	sess, err := fleet.Dial(context.Background(), model.Device{ID: "m1"})
	if err != nil {
		t.Fatal(err)
	}

	if err = sess.WriteTemplate("ghost", 1, []byte("x")); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("exp not-found for unknown user got %v", err)
	}

	if err = sess.CreateUser(model.TerminalUser{UserID: "101"}); err != nil {
		t.Fatal(err)
	}
	if err = sess.WriteTemplate("101", 10, []byte("x")); err == nil {
		t.Fatal("exp refusal for out-of-range finger index")
	}

	var perr model.ProtocolError
	if err = sess.DeleteUser("ghost"); !errors.As(err, &perr) {
		t.Fatalf("exp protocol error got %v", err)
	}
}
