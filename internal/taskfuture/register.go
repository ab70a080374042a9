package taskfuture

import (
	"context"

	"github.com/rzbill/taskbucket/internal/kv"
	"github.com/rzbill/taskbucket/internal/taskbucket"
)

// init installs the UnblockFuture built-in into taskbucket's process-global
// registry. It lives here, not in internal/taskbucket, so that package
// never needs to import this one: the futures handle threaded through
// TaskFunc.Finish is type-asserted back to *FutureBucket only here.
func init() {
	taskbucket.Register("UnblockFuture", taskbucket.TaskFunc{
		Execute: func(ctx context.Context, b *taskbucket.Bucket, futures interface{}, task *taskbucket.Task) error {
			return nil
		},
		Finish: func(tx *kv.Transaction, b *taskbucket.Bucket, futures interface{}, task *taskbucket.Task) error {
			fb, ok := futures.(*FutureBucket)
			if !ok {
				return nil
			}

			parent := fb.Unpack(task.Params[taskbucket.ParamFuture])
			blockID := task.Params[taskbucket.ParamBlockID]

			blockKey, err := parent.blSub().Pack(kv.Tuple{blockID})
			if err != nil {
				return err
			}
			tx.Clear(blockKey)

			set, err := parent.IsSetTx(tx)
			if err != nil {
				return err
			}
			if set {
				return parent.PerformAllActionsTx(tx, b)
			}
			return nil
		},
	})
}
