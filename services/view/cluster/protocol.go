// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cluster implements the clustering oracle: an independent worker
// reachable only through messages, which mirrors the plain edges of the
// view and proposes communities to collapse.
//
// # Protocol
//
//	{cmd: "getCommunity", limit, focus?} -> {cmd: "getCommunity", result: [ids]} | {error}
//	{cmd: "insertEdge", source, target}  (no reply)
//	{cmd: "deleteEdge", source, target}  (no reply)
//
// Every getCommunity carries a generation number that the reply echoes, so
// the caller can recognise replies issued before a reset.
package cluster

import "errors"

// Command names an oracle message.
type Command string

const (
	CmdGetCommunity Command = "getCommunity"
	CmdInsertEdge   Command = "insertEdge"
	CmdDeleteEdge   Command = "deleteEdge"
)

// Message is sent to the oracle.
type Message struct {
	Cmd Command `json:"cmd"`

	// Limit is the caller's node budget. Advisory.
	Limit int `json:"limit,omitempty"`

	// Focus is a node id the proposal should avoid.
	Focus string `json:"focus,omitempty"`

	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`

	Generation uint64 `json:"generation,omitempty"`

	// Trace carries the caller's span context.
	Trace map[string]string `json:"trace,omitempty"`
}

// Reply is produced for getCommunity only.
type Reply struct {
	Cmd        Command  `json:"cmd"`
	Result     []string `json:"result,omitempty"`
	Error      string   `json:"error,omitempty"`
	Generation uint64   `json:"generation,omitempty"`
}

// Oracle is the message-passing contract. Send never blocks.
type Oracle interface {
	Send(msg Message) error
	Replies() <-chan Reply
	Close() error
}

var (
	// ErrMailboxFull is returned when the worker cannot accept a message
	// without blocking the sender.
	ErrMailboxFull = errors.New("oracle mailbox full")

	// ErrOracleClosed is returned by Send after Close.
	ErrOracleClosed = errors.New("oracle closed")

	// ErrNoCommunity is reported when the mirror holds no collapsible group.
	ErrNoCommunity = errors.New("no community found")

	// ErrUnknownCommand is reported for unrecognised message commands.
	ErrUnknownCommand = errors.New("unknown oracle command")
)
