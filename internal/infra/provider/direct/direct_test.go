package direct

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/infra/jsonx"
)

func TestHandleFiltersByTableAndDeliversRemaining(t *testing.T) {
	p := &Provider{}

	env := changeEnvelope{
		Scope: model.Scope{WorkspaceID: "ws1"},
		Changes: []model.SyncChange{
			{TableName: "threads", PK: "t1", ServerVersion: 1},
			{TableName: "projects", PK: "p1", ServerVersion: 2},
		},
	}
	raw, err := jsonx.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), raw)

	var delivered []model.SyncChange
	onChanges := func(_ context.Context, changes []model.SyncChange) error {
		delivered = changes
		return nil
	}

	p.handle(context.Background(), msg, map[string]struct{}{"threads": {}}, onChanges)

	if len(delivered) != 1 || delivered[0].TableName != "threads" {
		t.Fatalf("expected only the threads change delivered, got %+v", delivered)
	}
}

func TestHandleAcksPoisonMessageWithoutDelivering(t *testing.T) {
	p := &Provider{}
	msg := message.NewMessage(watermill.NewUUID(), []byte("not json"))

	called := false
	onChanges := func(context.Context, []model.SyncChange) error {
		called = true
		return nil
	}

	p.handle(context.Background(), msg, nil, onChanges)

	if called {
		t.Fatalf("expected onChanges not called for an undecodable payload")
	}
	select {
	case <-msg.Acked():
	default:
		t.Fatalf("expected the undecodable message to be acked")
	}
}
