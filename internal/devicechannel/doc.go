// Package devicechannel delivers server-originated messages to devices.
//
// Each device that opens a long-lived stream to the hub gets exactly one
// Channel. Producers (REST handlers, the MQTT relay, domain services) call
// Enqueue without ever blocking; the device's own stream loop calls Next and
// sleeps until there is something to send.
//
// # State Machine
//
//	               Next, queue empty
//	  ┌──────┐ ─────────────────────────▶ ┌─────────┐
//	  │ Idle │                            │ Waiting │
//	  └──────┘ ◀───────────────────────── └─────────┘
//	     │       Enqueue (hand-off) / Stop
//	     │
//	     └── Enqueue appends; Next pops the oldest entry
//
// Stop cancels a parked waiter. When nobody is waiting it is remembered and
// cancels the next Next call that would otherwise park ("sticky stop"), so a
// stop request can never be lost to a race with a not-yet-issued wait.
//
// # Backpressure
//
// The queue has a fixed capacity (default 1000). When full, the oldest
// pending message is evicted to admit the newest: a device that falls behind
// receives recent commands rather than stale ones, and server memory stays
// bounded.
//
// # Ordering
//
// Messages for one device are delivered in enqueue order, minus evictions.
// There is no ordering between devices.
//
// # Usage
//
//	mgr := devicechannel.NewManager(1000)
//	ch := mgr.Register(42, stream, 0)
//	defer mgr.Release(ch)
//
//	for {
//	    produce, err := ch.Next(ctx)
//	    if err != nil {
//	        return err // ErrStopped, or ctx.Err()
//	    }
//	    payload, err := produce(ctx)
//	    ...
//	}
package devicechannel
