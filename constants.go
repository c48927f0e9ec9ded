package tampi

import (
	"github.com/tampi-go/tampi/internal/allocator"
	"github.com/tampi-go/tampi/internal/envconfig"
	"github.com/tampi-go/tampi/internal/ticketmgr"
)

// Re-exported capacity and batch constants, for embedders and tests that need
// to reason about the core's fixed-size internals without importing internal
// packages directly.
const (
	HardCapacityLimit    = envconfig.HardCapacityLimit
	TicketBatchSize      = ticketmgr.BatchSize
	AllocatorBatchSize   = allocator.BatchSize
	OperationCapacity    = allocator.OperationCapacity
	CollOperationCapacity = allocator.CollOperationCapacity
)
