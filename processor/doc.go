// Package processor enriches content items with a bounded worker pool.
//
// Process collects every item in the date window that is missing one of the
// target metadata fields, runs the process function over each with at most
// Concurrency calls in flight, parses the first JSON object out of each
// reply and writes the changed items back once per (date, group).
//
// Workers claim queue indexes from a shared atomic cursor. Worker i waits
// i*Stagger before its first claim, and after every successful item a worker
// sleeps Delay before claiming again if work remains. A failing or panicking
// item is logged and counted; it never stops the pool.
package processor
