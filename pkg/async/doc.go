// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// Tasks started through a Group recover panics (logged with a stack
// trace), run under a timeout and log returned errors through logrus.
// Close stops new tasks and drains the running ones for shutdown:
//
//	g := async.NewGroup(logger)
//	g.Go(ctx, 5*time.Second, "audit write", write)
//	defer g.Close(10 * time.Second)
//
// # Related Packages
//
//   - pkg/audit: AsyncLogger writes events through a Group
package async
