// Package device holds the hub's record of every hardware endpoint that has
// registered since start-up.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                        package device                          │
//	│                                                                │
//	│  ┌──────────────────┐   ┌──────────────────┐   ┌────────────┐  │
//	│  │     Registry     │   │    Validation    │   │  Journal   │  │
//	│  │  (registry.go)   │──▶│ (validation.go)  │   │(journal.go)│  │
//	│  │                  │   │                  │   │            │  │
//	│  │ • id allocation  │   │ • name/type/caps │   │ • queue    │  │
//	│  │ • status machine │   │ • location range │   │ • SQLite   │  │
//	│  │ • config merge   │   └──────────────────┘   │   events   │  │
//	│  │ • stats          │                          └────────────┘  │
//	│  └──────────────────┘                                          │
//	└────────────│──────────────────────────────────────│────────────┘
//	             ▼                                      ▼
//	      internal/hub (sessions,             device_events table
//	      router, heartbeat monitor)          (append-only audit)
//
// The registry is purely in memory. Nothing is restored across restarts;
// the journal is an audit trail only.
//
// # Usage
//
//	registry := device.NewRegistry()
//	registry.SetLogger(log)
//
//	dev, err := registry.Register(device.Registration{
//	    Name:         "Stop 4417 display",
//	    Type:         device.TypeDisplay,
//	    Capabilities: []string{device.CapabilityTransitDisplay},
//	})
//	if errors.Is(err, device.ErrInvalidRegistration) {
//	    // reply to the device with err.Error()
//	}
//
// # Thread Safety
//
// Registry and Journal are safe for concurrent use. Registry reads return
// deep copies.
package device
