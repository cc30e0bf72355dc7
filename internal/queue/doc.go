// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package queue holds user messages composed while disconnected and
// drains them when connectivity returns.
//
// The queue is durable: every mutation writes through to a JSON file
// (atomic temp+fsync+rename) before reporting success, so a reload
// sees exactly the set of items that were saved. Items get three total
// send attempts; an item that exhausts its budget is removed and an
// exhausted event fires so it is never silently dropped.
package queue
