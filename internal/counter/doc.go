// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

// Package counter provides auth.SharedCounterStore backends.
//
// RedisStore is the production backend: every operation is a single Redis
// command or Lua script, so increments are atomic across service instances.
// MemoryStore keeps state in process and is only suitable for tests and a
// single-instance development setup.
package counter
