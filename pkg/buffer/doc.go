// Package buffer provides a thread-safe bounded FIFO buffer for streaming
// pipelines.
//
// BlockBuffer sits between a producer goroutine (pulling fragments from a
// provider stream) and a consumer (draining them): the producer blocks when
// the consumer falls behind by more than the buffer size, which keeps memory
// bounded and propagates back-pressure to the upstream connection.
package buffer
