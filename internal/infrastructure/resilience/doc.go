/*
Package resilience provides a circuit breaker used to shed load from
producers that keep hitting a full pipe.

# Overview

The admin API writes to pipes without waiting. When a pipe's consumer stalls
every write fails with EIO; the breaker for that pipe opens after a run of
such failures and rejects writes with EBUSY until its timeout passes, then
lets a few probes through before closing again.

# Usage

	breakers := resilience.NewGroup(resilience.Settings{
		MaxRequests: 2,
		Timeout:     time.Second,
		IsFailure:   resilience.Backpressure,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 8
		},
	})

	n, err := resilience.Call(breakers.Get(p.Name()), func() (int, error) {
		return p.Put(data, len(data), clock.NoWait)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
