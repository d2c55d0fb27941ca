// Package rsync provides an implementation of the rsync algorithm as
// described in Andrew Tridgell's thesis
// (https://www.samba.org/~tridge/phd_thesis.pdf) and the rsync technical
// report (https://rsync.samba.org/tech_report). The algorithm is exposed as
// incremental transform jobs (signature generation, delta generation, and
// delta application) that plug into the stream package's transfer loop, plus
// the non-incremental index construction that delta generation is seeded
// with.
package rsync
