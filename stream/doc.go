// Package stream implements the streaming transfer loop that drives an
// incremental transform (signature generation, delta generation, or delta
// application) between a byte source and a byte sink using a pair of
// fixed-capacity buffers. Memory usage is constant regardless of how much
// data flows through the loop.
package stream
