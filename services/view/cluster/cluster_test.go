// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoTriangles is {a,b,c} and {d,e,f} joined by the bridge c-d.
var twoTriangles = [][2]string{
	{"a", "b"}, {"b", "c"}, {"a", "c"},
	{"d", "e"}, {"e", "f"}, {"d", "f"},
	{"c", "d"},
}

func buildMirror(edges [][2]string) *Mirror {
	m := NewMirror()
	for _, e := range edges {
		m.Insert(e[0], e[1])
	}
	return m
}

func TestMirror_Multiplicity(t *testing.T) {
	m := NewMirror()
	m.Insert("a", "b")
	m.Insert("b", "a")
	m.Insert("a", "a")

	assert.Equal(t, 2, m.EdgeCount())
	assert.Equal(t, 2, m.Weight("a", "b"))
	assert.Equal(t, 2, m.Degree("a"))

	m.Delete("a", "b")
	assert.Equal(t, 1, m.Weight("b", "a"))

	m.Delete("b", "a")
	m.Delete("b", "a")
	assert.Equal(t, 0, m.EdgeCount())
	assert.Equal(t, 0, m.NodeCount())
	assert.Empty(t, m.Neighbors("a"))
}

func TestDetect_TwoTriangles(t *testing.T) {
	part, err := Detect(context.Background(), buildMirror(twoTriangles), nil)
	require.NoError(t, err)

	require.Len(t, part.Communities, 2)
	assert.Equal(t, []string{"a", "b", "c"}, part.Communities[0])
	assert.Equal(t, []string{"d", "e", "f"}, part.Communities[1])
	assert.Greater(t, part.Modularity, 0.0)
	assert.True(t, part.Converged)
}

func TestDetect_Empty(t *testing.T) {
	part, err := Detect(context.Background(), NewMirror(), nil)
	require.NoError(t, err)
	assert.Empty(t, part.Communities)
	assert.True(t, part.Converged)
}

func TestDetect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Detect(ctx, buildMirror(twoTriangles), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPropose(t *testing.T) {
	tests := []struct {
		name    string
		edges   [][2]string
		focus   string
		want    []string
		wantErr error
	}{
		{name: "largest community", edges: twoTriangles, want: []string{"a", "b", "c"}},
		{name: "skips community holding focus", edges: twoTriangles, focus: "b", want: []string{"d", "e", "f"}},
		{name: "empty mirror", edges: nil, wantErr: ErrNoCommunity},
		{name: "single edge with focus", edges: [][2]string{{"a", "b"}}, focus: "a", wantErr: ErrNoCommunity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Propose(context.Background(), buildMirror(tt.edges), tt.focus, nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPropose_NextCommunityWhenFocusInLargest(t *testing.T) {
	m := buildMirror([][2]string{{"hub", "x"}, {"hub", "y"}, {"x", "y"}, {"z", "w"}})
	part, err := Detect(context.Background(), m, nil)
	require.NoError(t, err)
	require.NotEmpty(t, part.Communities)

	got, err := Propose(context.Background(), m, "hub", nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.NotContains(t, got, "hub")
}

func startWorker(t *testing.T, cfg WorkerConfig) *Worker {
	t.Helper()
	w := NewWorker(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func awaitReply(t *testing.T, w *Worker) Reply {
	t.Helper()
	select {
	case r := <-w.Replies():
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for oracle reply")
		return Reply{}
	}
}

func TestWorker_GetCommunity(t *testing.T) {
	w := startWorker(t, WorkerConfig{})
	for _, e := range twoTriangles {
		require.NoError(t, w.Send(Message{Cmd: CmdInsertEdge, Source: e[0], Target: e[1]}))
	}
	require.NoError(t, w.Send(Message{Cmd: CmdGetCommunity, Limit: 3, Focus: "a", Generation: 7}))

	r := awaitReply(t, w)

	assert.Equal(t, CmdGetCommunity, r.Cmd)
	assert.Equal(t, uint64(7), r.Generation)
	assert.Empty(t, r.Error)
	assert.Equal(t, []string{"d", "e", "f"}, r.Result)
}

func TestWorker_DeleteEdgeUpdatesMirror(t *testing.T) {
	w := startWorker(t, WorkerConfig{})
	require.NoError(t, w.Send(Message{Cmd: CmdInsertEdge, Source: "a", Target: "b"}))
	require.NoError(t, w.Send(Message{Cmd: CmdDeleteEdge, Source: "a", Target: "b"}))
	require.NoError(t, w.Send(Message{Cmd: CmdGetCommunity, Generation: 1}))

	r := awaitReply(t, w)

	assert.Contains(t, r.Error, ErrNoCommunity.Error())
	assert.Nil(t, r.Result)
}

func TestWorker_UnknownCommand(t *testing.T) {
	w := startWorker(t, WorkerConfig{})
	require.NoError(t, w.Send(Message{Cmd: "bogus", Generation: 3}))

	r := awaitReply(t, w)

	assert.Contains(t, r.Error, "bogus")
	assert.Equal(t, uint64(3), r.Generation)
}

func TestWorker_MailboxFull(t *testing.T) {
	w := NewWorker(WorkerConfig{MailboxSize: 1}, nil)

	require.NoError(t, w.Send(Message{Cmd: CmdInsertEdge, Source: "a", Target: "b"}))
	assert.ErrorIs(t, w.Send(Message{Cmd: CmdInsertEdge, Source: "b", Target: "c"}), ErrMailboxFull)
}

func TestWorker_CloseDrainsAndStops(t *testing.T) {
	w := NewWorker(WorkerConfig{}, nil)
	require.NoError(t, w.Send(Message{Cmd: CmdInsertEdge, Source: "a", Target: "b"}))
	require.NoError(t, w.Send(Message{Cmd: CmdGetCommunity, Generation: 2}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.Send(Message{Cmd: CmdGetCommunity}), ErrOracleClosed)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	r := awaitReply(t, w)
	assert.Equal(t, []string{"a", "b"}, r.Result)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	_, open := <-w.Replies()
	assert.False(t, open)
}
