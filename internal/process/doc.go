// Package process provides subprocess lifecycle management.
//
// Manager supervises any long-running child process. Server wraps it for
// the device-control server astrorpc talks to, when that server is
// launched locally rather than run externally.
//
// Features:
//   - Start/stop subprocess with graceful shutdown (SIGTERM, then SIGKILL)
//   - Automatic restart on failure with exponential backoff
//   - Health checks that kill a hung process, or stop supervising when the
//     failure is not recoverable
//   - Line-by-line capture of stdout/stderr into the log
//
// Example usage:
//
//	srv, err := process.NewServer(cfg.Server, "127.0.0.1:8800", logger)
//	if err != nil {
//	    return err
//	}
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Stop()
package process
