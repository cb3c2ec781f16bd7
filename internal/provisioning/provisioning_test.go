package provisioning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/db/dbtest"
	"VPN-Shop-bot/internal/eventlog"
)

// fakeNode serves the master node API from a scripted list of task statuses.
type fakeNode struct {
	mu         sync.Mutex
	statuses   []string
	polls      int
	creates    int
	renews     int
	failCreate bool
	lastCreate ConfigRequest
}

func (f *fakeNode) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, status int, body interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
	mux.HandleFunc("POST /configs/create", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.creates++
		_ = json.NewDecoder(r.Body).Decode(&f.lastCreate)
		if f.failCreate {
			reply(w, http.StatusBadGateway, map[string]interface{}{"ok": false, "error": "node down"})
			return
		}
		reply(w, http.StatusOK, map[string]interface{}{"ok": true, "result": map[string]string{"task_id": "task-1"}})
	})
	mux.HandleFunc("POST /configs/renew", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.renews++
		reply(w, http.StatusOK, map[string]interface{}{"ok": true, "result": map[string]string{"task_id": "task-renew"}})
	})
	mux.HandleFunc("GET /tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		status := "pending"
		if f.polls < len(f.statuses) {
			status = f.statuses[f.polls]
		}
		f.polls++
		result := map[string]interface{}{"task_id": r.PathValue("id"), "status": status, "message": "mock"}
		if status == "done" {
			result["config"] = "[Interface]\nPrivateKey=mock"
		}
		reply(w, http.StatusOK, map[string]interface{}{"ok": true, "result": result})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeNode) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func setup(t *testing.T, node *fakeNode) (*Service, *gorm.DB, *eventlog.Log) {
	gdb := dbtest.New(t)
	events := eventlog.New(gdb, nil, zap.NewNop())
	srv := node.server(t)
	return NewService(gdb, NewClient(srv.URL), events, zap.NewNop(), time.Second), gdb, events
}

func paidOrder(t *testing.T, gdb *gorm.DB) *db.Order {
	t.Helper()
	now := time.Now()
	o := &db.Order{
		TelegramID:    42,
		Plan:          "standard",
		Server:        "auto",
		Protocol:      "wireguard",
		Months:        3,
		Devices:       1,
		PaymentMethod: db.MethodSimulation,
		Status:        db.OrderPaid,
		PaidAt:        &now,
	}
	require.NoError(t, gdb.Create(o).Error)
	return o
}

func TestSubmitRecordsTask(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{}
	svc, gdb, events := setup(t, node)
	o := paidOrder(t, gdb)

	conn, created, err := svc.Submit(ctx, o)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, db.ConnSubmitted, conn.Status)
	assert.Equal(t, "task-1", conn.TaskID)
	assert.Equal(t, o.ID, node.lastCreate.OrderID)
	assert.Equal(t, "wireguard", node.lastCreate.Protocol)

	again, created, err := svc.Submit(ctx, o)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conn.ID, again.ID)
	assert.Equal(t, 1, node.creates, "second delivery must not resubmit")

	n, err := events.CountByType(ctx, o.ID, eventlog.ProvisioningSubmitted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSubmitRequiresPaidOrder(t *testing.T) {
	svc, gdb, _ := setup(t, &fakeNode{})
	o := paidOrder(t, gdb)
	o.Status = db.OrderPending

	_, _, err := svc.Submit(context.Background(), o)
	assert.ErrorIs(t, err, ErrNotPaid)
}

func TestSubmitNodeFailureCreatesFailedJob(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{failCreate: true}
	svc, gdb, events := setup(t, node)
	o := paidOrder(t, gdb)

	conn, created, err := svc.Submit(ctx, o)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, db.ConnFailed, conn.Status)
	assert.Empty(t, conn.TaskID)
	assert.Contains(t, conn.LastError, "502")

	p := NewPoller(svc, PollerConfig{Interval: time.Millisecond}, nil)
	assert.False(t, p.Start(conn), "failed job must not be polled")
	assert.Empty(t, p.Running())

	n, err := events.CountByType(ctx, o.ID, eventlog.ProvisioningFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSubmitNodeUnreachable(t *testing.T) {
	gdb := dbtest.New(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	svc := NewService(gdb, NewClient(srv.URL), eventlog.New(gdb, nil, nil), nil, time.Second)

	conn, _, err := svc.Submit(context.Background(), paidOrder(t, gdb))
	require.NoError(t, err)
	assert.Equal(t, db.ConnFailed, conn.Status)
}

func TestPollTransitions(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{statuses: []string{"pending", "queued", "done"}}
	svc, gdb, _ := setup(t, node)
	conn, _, err := svc.Submit(ctx, paidOrder(t, gdb))
	require.NoError(t, err)

	conn, err = svc.Poll(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, db.ConnPolling, conn.Status)

	conn, err = svc.Poll(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, db.ConnPolling, conn.Status)
	assert.Equal(t, 2, conn.PollAttempts)

	conn, err = svc.Poll(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, db.ConnReady, conn.Status)
	assert.Contains(t, conn.Config, "PrivateKey")
	require.NotNil(t, conn.ExpiresAt)
	assert.WithinDuration(t, time.Now().AddDate(0, 3, 0), *conn.ExpiresAt, time.Minute)

	// terminal rows are not polled again
	conn, err = svc.Poll(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, db.ConnReady, conn.Status)
	assert.Equal(t, 3, node.pollCount())
}

func TestPollFailedAndUnknownStatuses(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{statuses: []string{"rebooting", "error"}}
	svc, gdb, events := setup(t, node)
	o := paidOrder(t, gdb)
	conn, _, err := svc.Submit(ctx, o)
	require.NoError(t, err)

	conn, err = svc.Poll(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, db.ConnPolling, conn.Status)
	n, err := events.CountByType(ctx, o.ID, eventlog.ProvisioningPollError)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	conn, err = svc.Poll(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, db.ConnFailed, conn.Status)
	assert.Equal(t, "mock", conn.LastError)
}

func TestPollTransportErrorKeepsStatus(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.New(t)
	events := eventlog.New(gdb, nil, nil)
	o := paidOrder(t, gdb)
	conn := &db.Connection{TelegramID: o.TelegramID, OrderID: o.ID, TaskID: "t", Status: db.ConnPolling}
	require.NoError(t, gdb.Create(conn).Error)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	svc := NewService(gdb, NewClient(srv.URL), events, nil, time.Second)

	_, err := svc.Poll(ctx, conn)
	assert.ErrorIs(t, err, ErrNode)

	stored, err := svc.Get(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, db.ConnPolling, stored.Status)
	assert.Equal(t, 1, stored.PollAttempts)
	assert.NotEmpty(t, stored.LastError)

	n, err := events.CountByType(ctx, o.ID, eventlog.ProvisioningPollError)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPollErrorBookkeepingFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.New(t)
	o := paidOrder(t, gdb)
	conn := &db.Connection{TelegramID: o.TelegramID, OrderID: o.ID, TaskID: "t", Status: db.ConnPolling}
	require.NoError(t, gdb.Create(conn).Error)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	core, logs := observer.New(zap.WarnLevel)
	svc := NewService(gdb, NewClient(srv.URL), eventlog.New(gdb, nil, nil), zap.New(core), time.Second)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = svc.Poll(ctx, conn)
	assert.ErrorIs(t, err, ErrNode)
	assert.Equal(t, 1, logs.FilterMessage("poll error not recorded").Len())
}

func TestPollerRunsUntilReady(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{statuses: []string{"pending", "pending", "pending", "done"}}
	svc, gdb, _ := setup(t, node)
	conn, _, err := svc.Submit(ctx, paidOrder(t, gdb))
	require.NoError(t, err)

	finished := make(chan *db.Connection, 1)
	p := NewPoller(svc, PollerConfig{
		Interval:   5 * time.Millisecond,
		OnTerminal: func(_ context.Context, c *db.Connection) { finished <- c },
	}, zap.NewNop())
	require.True(t, p.Start(conn))
	assert.False(t, p.Start(conn), "one loop per job")

	select {
	case c := <-finished:
		assert.Equal(t, db.ConnReady, c.Status)
		assert.NotEmpty(t, c.Config)
	case <-time.After(3 * time.Second):
		t.Fatal("poller did not finish")
	}

	require.Eventually(t, func() bool { return len(p.Running()) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 4, node.pollCount(), "no calls after the terminal state")
	require.NoError(t, p.Shutdown(ctx))
}

func TestPollerStopLeavesStatus(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{}
	svc, gdb, _ := setup(t, node)
	conn, _, err := svc.Submit(ctx, paidOrder(t, gdb))
	require.NoError(t, err)

	p := NewPoller(svc, PollerConfig{Interval: 5 * time.Millisecond}, nil)
	require.True(t, p.Start(conn))
	require.Eventually(t, func() bool { return node.pollCount() >= 2 }, 2*time.Second, 5*time.Millisecond)

	p.Stop(conn.ID)
	require.Eventually(t, func() bool { return len(p.Running()) == 0 }, time.Second, 5*time.Millisecond)
	polls := node.pollCount()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, node.pollCount(), polls+1)

	stored, err := svc.Get(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, db.ConnPolling, stored.Status)
}

func TestPollerShutdownAndResume(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{}
	svc, gdb, _ := setup(t, node)
	first, _, err := svc.Submit(ctx, paidOrder(t, gdb))
	require.NoError(t, err)
	second, _, err := svc.Submit(ctx, paidOrder(t, gdb))
	require.NoError(t, err)

	p := NewPoller(svc, PollerConfig{Interval: 5 * time.Millisecond}, nil)
	n, err := p.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(shutdownCtx))
	assert.Empty(t, p.Running())
	assert.False(t, p.Start(first), "no new loops after shutdown")

	for _, id := range []uint{first.ID, second.ID} {
		stored, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, Terminal(stored.Status))
	}
}

func TestPollerGivesUp(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{}
	svc, gdb, _ := setup(t, node)
	conn, _, err := svc.Submit(ctx, paidOrder(t, gdb))
	require.NoError(t, err)

	finished := make(chan *db.Connection, 1)
	p := NewPoller(svc, PollerConfig{
		Interval:    2 * time.Millisecond,
		MaxAttempts: 3,
		OnTerminal:  func(_ context.Context, c *db.Connection) { finished <- c },
	}, nil)
	require.True(t, p.Start(conn))

	select {
	case c := <-finished:
		assert.Equal(t, db.ConnFailed, c.Status)
		assert.Contains(t, c.LastError, "gave up")
	case <-time.After(3 * time.Second):
		t.Fatal("poller did not give up")
	}
	assert.Equal(t, 3, node.pollCount())
}

func TestRenewReusesRow(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{statuses: []string{"done"}}
	svc, gdb, _ := setup(t, node)
	conn, _, err := svc.Submit(ctx, paidOrder(t, gdb))
	require.NoError(t, err)

	_, err = svc.Renew(ctx, conn.ID, conn.TelegramID)
	assert.ErrorIs(t, err, ErrInProgress)

	conn, err = svc.Poll(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, db.ConnReady, conn.Status)

	_, err = svc.Renew(ctx, conn.ID, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	renewed, err := svc.Renew(ctx, conn.ID, conn.TelegramID)
	require.NoError(t, err)
	assert.Equal(t, conn.ID, renewed.ID)
	assert.Equal(t, db.ConnSubmitted, renewed.Status)
	assert.Equal(t, "task-renew", renewed.TaskID)
	assert.Equal(t, conn.Config, renewed.Config, "last config is kept until the new one is ready")
	assert.Zero(t, renewed.PollAttempts)

	var orders int64
	require.NoError(t, gdb.Model(&db.Order{}).Count(&orders).Error)
	assert.Equal(t, int64(1), orders)
	assert.Equal(t, 1, node.renews)
}

func TestExpireDueAndExpiring(t *testing.T) {
	ctx := context.Background()
	svc, gdb, _ := setup(t, &fakeNode{})
	now := time.Now()
	past := now.Add(-time.Hour)
	soon := now.Add(24 * time.Hour)
	later := now.Add(30 * 24 * time.Hour)

	require.NoError(t, gdb.Create(&db.Connection{OrderID: 1, Status: db.ConnReady, ExpiresAt: &past}).Error)
	require.NoError(t, gdb.Create(&db.Connection{OrderID: 2, Status: db.ConnReady, ExpiresAt: &soon}).Error)
	require.NoError(t, gdb.Create(&db.Connection{OrderID: 3, Status: db.ConnReady, ExpiresAt: &later}).Error)

	expired, err := svc.ExpireDue(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, uint(1), expired[0].OrderID)

	expiring, err := svc.ExpiringWithin(ctx, 3*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, uint(2), expiring[0].OrderID)

	require.NoError(t, svc.MarkNotified(ctx, expiring[0].ID))
	expiring, err = svc.ExpiringWithin(ctx, 3*24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, expiring)
}
