package events

import (
	"context"
	"testing"
)

func TestMemoryPublisherRecordsEvents(t *testing.T) {
	ctx := context.Background()
	publisher := NewMemoryPublisher()

	first := New(TypeAgentRegistered, map[string]any{"owner": "0x01"})
	second := New(TypePositionOpened, nil)
	if err := publisher.Publish(ctx, first); err != nil {
		t.Fatalf("发布失败: %v", err)
	}
	if err := publisher.Publish(ctx, second); err != nil {
		t.Fatalf("发布失败: %v", err)
	}

	recorded := publisher.Events()
	if len(recorded) != 2 {
		t.Fatalf("事件数量 = %d, 期望 2", len(recorded))
	}
	if recorded[0].Type != TypeAgentRegistered || recorded[1].Type != TypePositionOpened {
		t.Fatalf("事件顺序不符: %+v", recorded)
	}
	if recorded[0].ID == "" || recorded[0].ID == recorded[1].ID {
		t.Fatal("事件 ID 应当唯一且非空")
	}
}

func TestMemoryPublisherRejectsAfterClose(t *testing.T) {
	publisher := NewMemoryPublisher()
	if err := publisher.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}
	if err := publisher.Publish(context.Background(), New(TypeDisputeFiled, nil)); err == nil {
		t.Fatal("关闭后的发布应当失败")
	}
}
