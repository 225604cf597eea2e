// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/GraphView/services/view/cluster"
	"github.com/AleutianAI/GraphView/services/view/graph"
)

func reply(gen uint64, ids ...string) cluster.Reply {
	return cluster.Reply{Cmd: cluster.CmdGetCommunity, Result: ids, Generation: gen}
}

// Five unconnected nodes over a limit of two: nothing can be collapsed
// locally, so the oracle is asked, and one reply only gets the view to four.
func TestCheckNodeLimit_RequestsPartition(t *testing.T) {
	ctx := context.Background()
	e, oracle, _ := newTestEngine(t, settings(2, 15))
	insertNodes(t, e, "n1", "n2", "n3", "n4", "n5")

	e.CheckNodeLimit(ctx, nil)

	reqs := oracle.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 2, reqs[0].Limit)
	assert.Empty(t, reqs[0].Focus)
	assert.True(t, e.InFlight())

	e.ApplyReply(ctx, reply(reqs[0].Generation, "n3", "n4"))

	assert.Equal(t, 4, e.VisibleCount())
	assert.False(t, e.InFlight())
	snap := e.Snapshot()
	require.Len(t, snap.Communities, 1)
	assert.Equal(t, ReasonCommunity, snap.Communities[0].Reason.Type)
	assert.Equal(t, []string{"n3", "n4"}, snap.Communities[0].Members)
	requireConsistent(t, e)
}

func TestRequestCollapse_AtMostOneInFlight(t *testing.T) {
	ctx := context.Background()
	e, oracle, _ := newTestEngine(t, settings(1, 15))
	insertNodes(t, e, "a", "b", "c")

	e.CheckNodeLimit(ctx, nil)
	e.CheckNodeLimit(ctx, nil)
	insertNodes(t, e, "d")
	e.CheckNodeLimit(ctx, nil)

	assert.Len(t, oracle.requests(), 1)

	e.ApplyReply(ctx, reply(oracle.requests()[0].Generation, "a", "b"))
	e.CheckNodeLimit(ctx, nil)
	assert.Len(t, oracle.requests(), 2)
}

func TestCheckNodeLimit_FocusForwarded(t *testing.T) {
	e, oracle, _ := newTestEngine(t, settings(1, 15))
	nodes := insertNodes(t, e, "a", "b")

	e.CheckNodeLimit(context.Background(), nodes[1])

	reqs := oracle.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "b", reqs[0].Focus)
}

func TestApplyReply_Stale(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing in flight", func(t *testing.T) {
		e, _, _ := newTestEngine(t, settings(1, 15))
		insertNodes(t, e, "a", "b")

		e.ApplyReply(ctx, reply(1, "a", "b"))

		assert.Equal(t, 2, e.VisibleCount())
		assert.Empty(t, e.Snapshot().Communities)
	})

	t.Run("issued before cleanup", func(t *testing.T) {
		e, oracle, _ := newTestEngine(t, settings(1, 15))
		insertNodes(t, e, "a", "b")
		e.CheckNodeLimit(ctx, nil)
		old := oracle.requests()[0].Generation

		e.CleanUp(ctx)
		insertNodes(t, e, "a", "b")
		e.CheckNodeLimit(ctx, nil)
		require.Len(t, oracle.requests(), 2)

		e.ApplyReply(ctx, reply(old, "a", "b"))

		assert.Equal(t, 2, e.VisibleCount())
		assert.True(t, e.InFlight(), "stale reply must not clear the current request")
	})

	t.Run("other command", func(t *testing.T) {
		e, oracle, _ := newTestEngine(t, settings(1, 15))
		insertNodes(t, e, "a", "b")
		e.CheckNodeLimit(ctx, nil)

		e.ApplyReply(ctx, cluster.Reply{Cmd: cluster.CmdInsertEdge, Generation: oracle.requests()[0].Generation})

		assert.True(t, e.InFlight())
	})
}

func TestApplyReply_ErrorLeavesGraph(t *testing.T) {
	ctx := context.Background()
	e, oracle, _ := newTestEngine(t, settings(1, 15))
	insertNodes(t, e, "a", "b")
	e.CheckNodeLimit(ctx, nil)

	e.ApplyReply(ctx, cluster.Reply{
		Cmd:        cluster.CmdGetCommunity,
		Error:      "partition failed",
		Generation: oracle.requests()[0].Generation,
	})

	assert.Equal(t, 2, e.VisibleCount())
	assert.False(t, e.InFlight())
	requireConsistent(t, e)
}

func TestApplyReply_SkipsIdsGoneSinceRequest(t *testing.T) {
	ctx := context.Background()
	e, oracle, _ := newTestEngine(t, settings(1, 15))
	nodes := insertNodes(t, e, "a", "b", "c", "d")
	e.CheckNodeLimit(ctx, nil)

	// Mutations while the request is outstanding.
	_, err := e.CollapseCommunity(ctx, []string{"c", "d"}, graph.Reason{Type: "manual"})
	require.NoError(t, err)
	require.NoError(t, e.RemoveNode(nodes[1]))

	e.ApplyReply(ctx, reply(oracle.requests()[0].Generation, "a", "b", "c", "zz"))

	snap := e.Snapshot()
	require.Len(t, snap.Communities, 2)
	assert.Equal(t, []string{"a"}, snap.Communities[1].Members)
	assert.False(t, e.InFlight())
	requireConsistent(t, e)
}

func TestApplyReply_NothingResolvable(t *testing.T) {
	ctx := context.Background()
	e, oracle, _ := newTestEngine(t, settings(1, 15))
	insertNodes(t, e, "a", "b")
	e.CheckNodeLimit(ctx, nil)

	e.ApplyReply(ctx, reply(oracle.requests()[0].Generation, "x", "y"))

	assert.Empty(t, e.Snapshot().Communities)
	assert.False(t, e.InFlight())
}

func TestRequestCollapse_SendFailure(t *testing.T) {
	e, oracle, _ := newTestEngine(t, settings(1, 15))
	insertNodes(t, e, "a", "b")
	oracle.sendErr = cluster.ErrMailboxFull

	var called atomic.Bool
	require.NoError(t, e.SetNodeLimit(context.Background(), 1, func() { called.Store(true) }))

	assert.False(t, e.InFlight())
	assert.True(t, called.Load())
}

func TestRequestCollapse_RateLimited(t *testing.T) {
	ctx := context.Background()
	e, oracle, _ := newTestEngine(t, settings(1, 15), WithRateLimit(0.001))
	insertNodes(t, e, "a", "b", "c")

	e.CheckNodeLimit(ctx, nil)
	require.Len(t, oracle.requests(), 1)
	e.ApplyReply(ctx, reply(oracle.requests()[0].Generation, "a", "b"))

	e.CheckNodeLimit(ctx, nil)
	assert.Len(t, oracle.requests(), 1)
	assert.False(t, e.InFlight())
}

func TestSetNodeLimit_Callback(t *testing.T) {
	ctx := context.Background()

	t.Run("no request fires immediately", func(t *testing.T) {
		e, _, _ := newTestEngine(t, settings(10, 15))
		insertNodes(t, e, "a", "b")

		called := false
		require.NoError(t, e.SetNodeLimit(ctx, 5, func() { called = true }))
		assert.True(t, called)
	})

	t.Run("fires after reply", func(t *testing.T) {
		e, oracle, _ := newTestEngine(t, settings(10, 15))
		insertNodes(t, e, "a", "b", "c")

		called := 0
		require.NoError(t, e.SetNodeLimit(ctx, 2, func() { called++ }))
		assert.Zero(t, called)

		e.ApplyReply(ctx, reply(oracle.requests()[0].Generation, "a", "b"))
		assert.Equal(t, 1, called)
		assert.Equal(t, 2, e.VisibleCount())
	})

	t.Run("fires on cleanup", func(t *testing.T) {
		e, _, _ := newTestEngine(t, settings(10, 15))
		insertNodes(t, e, "a", "b", "c")

		called := false
		require.NoError(t, e.SetNodeLimit(ctx, 2, func() { called = true }))
		e.CleanUp(ctx)
		assert.True(t, called)
	})

	t.Run("invalid", func(t *testing.T) {
		e, _, _ := newTestEngine(t, settings(10, 15))
		assert.ErrorIs(t, e.SetNodeLimit(ctx, 0, nil), ErrInvalidLimit)
	})
}

func TestRun_AppliesReplies(t *testing.T) {
	e, oracle, _ := newTestEngine(t, settings(1, 15))
	insertNodes(t, e, "a", "b", "c")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	e.CheckNodeLimit(ctx, nil)
	oracle.replies <- reply(oracle.requests()[0].Generation, "a", "b")

	require.NoError(t, e.Settle(ctx))
	assert.Equal(t, 2, e.VisibleCount())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRun_StopsWhenRepliesClose(t *testing.T) {
	e, oracle, _ := newTestEngine(t, DefaultSettings())
	close(oracle.replies)
	assert.NoError(t, e.Run(context.Background()))
}

func TestSettle_ContextDone(t *testing.T) {
	e, _, _ := newTestEngine(t, settings(1, 15))
	insertNodes(t, e, "a", "b")
	e.CheckNodeLimit(context.Background(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(e.Settle(ctx), context.DeadlineExceeded))
}

// The engine against the real worker: two triangles over a limit of four
// collapse one triangle.
func TestEngine_WithWorker(t *testing.T) {
	worker := cluster.NewWorker(cluster.WorkerConfig{}, discardLogger())
	e, err := New(settings(10, 15), worker, &fakeLoader{}, WithSeed(1), WithLogger(discardLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()
	go func() { _ = e.Run(ctx) }()

	insertNodes(t, e, "a", "b", "c", "d", "e", "f")
	insertEdges(t, e,
		[2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"a", "c"},
		[2]string{"d", "e"}, [2]string{"e", "f"}, [2]string{"d", "f"},
		[2]string{"c", "d"},
	)

	var done atomic.Bool
	require.NoError(t, e.SetNodeLimit(ctx, 4, func() { done.Store(true) }))
	require.Eventually(t, done.Load, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 4, e.VisibleCount())
	snap := e.Snapshot()
	require.Len(t, snap.Communities, 1)
	assert.Equal(t, []string{"a", "b", "c"}, snap.Communities[0].Members)
	requireConsistent(t, e)
}
