// Package daemon connects clients to remote worker services.
//
// The client side is Connection, a WorkSender that turns SendWork calls into
// requests on a transport.Service and feeds the streamed responses back into
// the caller's listener. The remote side is Daemon, which receives requests
// for every registered service, runs the worker template and streams
// enqueued, started, progress and terminal responses back. File references
// cross hosts as tokens of the form <root>:<relative/path>.
package daemon
