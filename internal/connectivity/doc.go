// Package connectivity manages the network link lifecycle with bounded
// retries and backoff.
//
// The Machine never blocks. Transport.Connect and Transport.Disconnect are
// fire-and-forget; the outcome is read back through Transport.Status on the
// next Tick. Timeouts and backoff delays are evaluated only inside Tick, so a
// condition is noticed at most one tick period after it becomes true: with
// the machine ticked every P, a connect timeout of T is detected no later
// than T+P after the attempt started.
//
//	Idle --Start--> Connecting
//	Connecting --link up--> Connected
//	Connecting --timeout/failed--> Reconnecting   (attempts remain)
//	Connecting --timeout/failed--> Disconnected   (ceiling reached)
//	Connected --link lost--> Reconnecting
//	Reconnecting --backoff elapsed--> Connecting
//	Disconnected --Start--> Connecting
//	any --Stop--> Idle
package connectivity
