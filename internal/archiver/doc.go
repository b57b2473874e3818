// Package archiver holds the acquisition-and-retention core: source resolution,
// the retrying fetch attempt, the atomic archive writer with its latest pointer,
// and the retention sweeper. The scheduler package drives these pieces on a
// fixed cadence; everything here is synchronous and safe to call from a single
// goroutine.
//
// On-disk layout per source:
//
//	<root>/<id>/images/YYYYMMDD_HHMMSS.<ext>
//	<root>/<id>/images/latest
//
// Readers such as the presentation layer and video assembly rely on this layout
// without coordination, so a file under its final name is always complete.
package archiver
