// Package connection provides reconnection scheduling for CBridge
// transports.
//
// The scheduler keeps a per-transport consecutive-failure counter and
// derives a flat, tiered delay from it:
//
//	attempts 1-5:   1 second
//	attempts 6-15:  3 seconds
//	attempts 16+:   10 seconds
//
// There is no upper bound on attempt count. Either peer may sleep and wake
// at any time, so retries never permanently stop once started. A successful
// handshake resets the counter to zero.
//
// A peer-availability signal (USB cable attach, new mDNS service) kicks the
// scheduler: any pending backoff wait is cancelled and the next attempt
// runs immediately.
package connection
