package transfer

import (
	"runtime"
	"time"
)

const (
	DefaultMultipartThreshold = 8 * 1024 * 1024
	DefaultPartSize           = 8 * 1024 * 1024
	DefaultChunkSize          = 256 * 1024
)

type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Factor      float64
	Max         time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Base:        500 * time.Millisecond,
		Factor:      2,
		Max:         8 * time.Second,
	}
}

type Options struct {
	// Concurrency bounds the number of actions in flight.
	Concurrency int
	// BandwidthLimit caps aggregate throughput in bytes per second across
	// all workers. Zero means unlimited.
	BandwidthLimit int64
	Retry          RetryPolicy
	// OpTimeout bounds every store call. Expiry is retried like any other
	// transient failure. Zero disables it.
	OpTimeout          time.Duration
	MultipartThreshold int64
	PartSize           int64
	// ChunkSize is the unit of progress reporting and bandwidth accounting.
	ChunkSize int

	// LocalRoot is the directory plan paths are relative to.
	LocalRoot string
	// Prefix is the key prefix plan paths are relative to.
	Prefix string
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = runtime.GOMAXPROCS(0)
	}
	def := DefaultRetryPolicy()
	if o.Retry.MaxAttempts <= 0 {
		o.Retry.MaxAttempts = def.MaxAttempts
	}
	if o.Retry.Base <= 0 {
		o.Retry.Base = def.Base
	}
	if o.Retry.Factor < 1 {
		o.Retry.Factor = def.Factor
	}
	if o.Retry.Max <= 0 {
		o.Retry.Max = def.Max
	}
	if o.MultipartThreshold <= 0 {
		o.MultipartThreshold = DefaultMultipartThreshold
	}
	if o.PartSize <= 0 {
		o.PartSize = DefaultPartSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return o
}
