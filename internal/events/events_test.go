package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/canvas-sync/internal/events"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// recorder 記錄收到的事件
type recorder struct {
	mu     sync.Mutex
	events []events.Event
	err    error
	block  chan struct{}
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestNew(t *testing.T) {
	e := events.New(events.KindGameFinished, events.NamespaceTicTacToe, "g1", map[string]string{"winner": "X"})

	assert.Equal(t, events.KindGameFinished, e.Kind)
	assert.Equal(t, "g1", e.RoomID)
	assert.False(t, e.Timestamp.IsZero())
	assert.JSONEq(t, `{"winner":"X"}`, string(e.Data))

	empty := events.New(events.KindRoomCreated, events.NamespaceCanvas, "r1", nil)
	assert.Nil(t, empty.Data)
}

func TestSubject(t *testing.T) {
	e := events.New(events.KindRoomClosed, events.NamespaceTyping, "g2", nil)
	assert.Equal(t, "rooms.typing.room_closed", events.Subject("rooms", e))
}

func TestMulti(t *testing.T) {
	a := &recorder{}
	b := &recorder{err: errors.New("db down")}

	err := events.Multi{a, b}.Publish(context.Background(), events.New(events.KindRoomCreated, events.NamespaceCanvas, "r1", nil))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, 1, a.len())
	assert.Equal(t, 1, b.len())
}

// TestBus_DeliversInOrder 測試事件依序送達，Close 會等待緩衝區清空
func TestBus_DeliversInOrder(t *testing.T) {
	rec := &recorder{}
	bus := events.NewBus(rec, 16, testLogger())

	for _, id := range []string{"a", "b", "c"} {
		bus.Emit(events.New(events.KindRoomCreated, events.NamespaceCanvas, id, nil))
	}
	bus.Close()

	require.Equal(t, 3, rec.len())
	assert.Equal(t, "a", rec.events[0].RoomID)
	assert.Equal(t, "c", rec.events[2].RoomID)

	// 關閉後的事件直接丟棄
	bus.Emit(events.New(events.KindRoomCreated, events.NamespaceCanvas, "d", nil))
	bus.Close()
	assert.Equal(t, 3, rec.len())
}

// TestBus_DropsWhenFull 測試緩衝區滿時 Emit 不會阻塞
func TestBus_DropsWhenFull(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	bus := events.NewBus(rec, 1, testLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Emit(events.New(events.KindRoomCreated, events.NamespaceCanvas, "r", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit 被阻塞")
	}

	close(rec.block)
	bus.Close()

	// worker 手上一個 + 緩衝區一個
	assert.LessOrEqual(t, rec.len(), 2)
}

// TestNATSPublisher 使用真實 NATS 驗證主題與內容
func TestNATSPublisher(t *testing.T) {
	if testing.Short() {
		t.Skip("跳過整合測試")
	}

	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	require.NoError(t, err)

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("rooms.tictactoe.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := events.NewNATSPublisher(url, "rooms", testLogger())
	require.NoError(t, err)
	defer pub.Close()

	e := events.New(events.KindGameFinished, events.NamespaceTicTacToe, "g1", nil)
	e.Winner = "X"
	require.NoError(t, pub.Publish(ctx, e))

	select {
	case msg := <-msgs:
		assert.Equal(t, "rooms.tictactoe.game_finished", msg.Subject)

		var got events.Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "g1", got.RoomID)
		assert.Equal(t, "X", got.Winner)
	case <-time.After(5 * time.Second):
		t.Fatal("沒有收到 NATS 訊息")
	}
}
