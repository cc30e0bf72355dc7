// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations, messages,
// and queued offline sends, plus the token estimator used when a provider
// reports no usage figures.
package model
