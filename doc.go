// Package piotest contains the core components of piotest, a distributed correctness harness for
// a parallel I/O library. This root package defines the types shared by the topology, decomposition,
// sample and driver packages, and is a good overview of piotest's key concepts: a communicator
// of ranks, the storage flavors an I/O library can write, and the results of a test pass.
package piotest
