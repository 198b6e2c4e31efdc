// Package app composes the custody layer into a running application.
//
// The app package wires the domain services (registry, escrow, swap, stats)
// onto a ledger executor and manages their lifecycle. It holds no business
// logic itself; custody rules live in internal/app/services/.
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models and record layouts
//	│   ├── identity/       # 32-byte ledger identities
//	│   └── custody/        # Escrow, session, stats records + codecs
//	├── ledger/             # Atomic ledger executor abstraction
//	│   ├── memory/         # In-memory executor for tests and local mode
//	│   └── postgres/       # SERIALIZABLE Postgres executor
//	├── services/           # Custody business logic
//	│   ├── registry/       # Singleton admin identity
//	│   ├── escrow/         # Authorization engine + tap-to-pay
//	│   ├── swap/           # Swap-and-pay + treasury administration
//	│   └── stats/          # Best-effort telemetry and leaderboards
//	├── httpapi/            # HTTP API handlers
//	├── system/             # Lifecycle management
//	└── metrics/            # Prometheus collectors
package app
