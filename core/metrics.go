package core

import (
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	blockExecutionTimer = metrics.NewRegisteredTimer("exec/block/execute", nil)
	blockVerifyTimer    = metrics.NewRegisteredTimer("exec/block/verify", nil)
	blockMergeTimer     = metrics.NewRegisteredTimer("exec/block/merge", nil)

	txExecutedMeter = metrics.NewRegisteredMeter("exec/txs", nil)
	gasUsedMeter    = metrics.NewRegisteredMeter("exec/gas", nil)

	batchBlocksMeter    = metrics.NewRegisteredMeter("exec/batch/blocks", nil)
	batchDiscardedMeter = metrics.NewRegisteredMeter("exec/batch/discarded", nil)
	bundleSizeGauge     = metrics.NewRegisteredGauge("exec/batch/bundlesize", nil)

	prefetchAccountMeter = metrics.NewRegisteredMeter("exec/prefetch/accounts", nil)
	prefetchSkippedMeter = metrics.NewRegisteredMeter("exec/prefetch/skipped", nil)
)
