// Package async provides safe concurrent execution primitives for background tasks.
//
// SafeGo runs a single task with a timeout and panic recovery:
//
//	async.SafeGo(ctx, logger, 10*time.Second, "directory probe", factory.Ping)
//
// WorkerPool runs queued tasks on a fixed set of workers and drains the queue
// on Shutdown:
//
//	pool := async.NewWorkerPool(ctx, logger, 2, 128, "audit", 5*time.Second)
//	pool.Submit(func(ctx context.Context) error { return sink.Log(ctx, event) })
//	pool.Shutdown(5 * time.Second)
package async
