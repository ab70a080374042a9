// Package taskfuture implements a durable AND-join future on top of
// internal/taskbucket's store. A TaskFuture's set/unset state is the
// emptiness of its block set, not an in-memory flag, so a fan-in join
// survives every participating worker crashing and restarting.
//
// A fresh future starts with a single sentinel block keyed by the empty
// block id. Join clears that sentinel and adds one real block per parent
// dependency before registering the UnblockFuture callback that clears it.
// Callbacks registered via OnSet are themselves durable rows, not live
// closures: PerformAllActions reconstructs a Task from each callback's
// rows and re-enters the same TaskFunc registry that worker.go does.
//
//	fb := taskfuture.New(store, []byte("tf/"))
//	f1, _ := fb.Future(ctx)
//	f2, _ := fb.Future(ctx)
//	_ = f1.OnSetAddTask(ctx, bucket, taskbucket.NewTask("notify", 0), nil)
package taskfuture
