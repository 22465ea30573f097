// Package manager caches generative-image pipelines and coordinates their use
// of scarce accelerator memory. It is structured into small files by concern:
//
//   - manager.go: core Manager type, simple getters and Close.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: ModelKey, Tier and the cache Entry.
//   - cache.go: ModelCache, a two-tier LRU index with load-once Acquire.
//   - evict.go: victim selection, demotion to host memory and the resident limit.
//   - hostmem.go: host memory probing through procfs.
//   - coordinator.go: Run, the bounded out-of-memory retry loop, and EnsureResident.
//   - lease.go: exclusive leases (Checkout/Return) and instrumented loading.
//   - scheduler.go, overlays.go: per-call sampler and overlay scoping.
//   - generate.go: the request-level Generate flow and upload pool.
//   - errors.go: error types and helpers (IsTooBusy, IsResourceExhausted, ...).
//   - events.go, eventpub_memory.go: lifecycle events.
//   - metrics.go: Prometheus collectors.
//   - status_report.go, sanity.go, unload.go, ops.go: operational surface.
//
// Invariants: at most one entry per key; a leased entry is never demoted or
// discarded; overlays applied to a pipeline are always reverted, and a
// pipeline whose reversal fails is destroyed rather than returned.
//
// External packages should treat this package as the orchestration layer and
// use public methods only (NewWithConfig, Generate, Status, Warm, Unload,
// Close). Internal types are subject to change.
package manager
